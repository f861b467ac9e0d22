package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cristalhq/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsegram/backend/internal/models"
)

var (
	// ErrSessionNotFound indicates the provided refresh token does not map to an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshTokenExpired indicates the refresh token has expired and cannot be used.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrInvalidToken indicates an access token failed signature or claim checks.
	ErrInvalidToken = errors.New("invalid access token")
)

// SessionStore persists issued refresh tokens so they can survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	// Take removes the session and returns it. It returns ErrSessionNotFound
	// when the token is unknown or was already taken.
	Take(ctx context.Context, refreshToken string) (Session, error)
	Delete(ctx context.Context, refreshToken string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Session represents a refresh token issued to an account.
type Session struct {
	RefreshToken string
	AccountID    string
	ExpiresAt    time.Time
}

// Manager issues signed access tokens and rotating refresh tokens.
type Manager struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string

	signer   jwt.Signer
	verifier jwt.Verifier
	store    SessionStore
	now      func() time.Time
}

// NewManager constructs a Manager signing HS256 access tokens with secret.
func NewManager(secret []byte, issuer string, accessTTL, refreshTTL time.Duration, store SessionStore) (*Manager, error) {
	if store == nil {
		return nil, errors.New("auth: session store must not be nil")
	}
	signer, err := jwt.NewSignerHS(jwt.HS256, secret)
	if err != nil {
		return nil, fmt.Errorf("auth: build signer: %w", err)
	}
	verifier, err := jwt.NewVerifierHS(jwt.HS256, secret)
	if err != nil {
		return nil, fmt.Errorf("auth: build verifier: %w", err)
	}
	return &Manager{
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     issuer,
		signer:     signer,
		verifier:   verifier,
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue creates a new pair of access and refresh tokens for the provided account.
func (m *Manager) Issue(ctx context.Context, accountID string) (models.SessionTokens, error) {
	if accountID == "" {
		return models.SessionTokens{}, errors.New("account id must be provided")
	}

	now := m.now()
	token, err := jwt.NewBuilder(m.signer).Build(&jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   accountID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
	})
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return models.SessionTokens{}, err
	}

	tokens := models.SessionTokens{
		AccessToken:      token.String(),
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(m.refreshTTL),
	}

	if err := m.store.Save(ctx, Session{
		RefreshToken: refreshToken,
		AccountID:    accountID,
		ExpiresAt:    tokens.RefreshExpiresAt,
	}); err != nil {
		return models.SessionTokens{}, err
	}

	return tokens, nil
}

// Verify checks an access token and returns the account it was issued to.
func (m *Manager) Verify(accessToken string) (string, error) {
	if accessToken == "" {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	if err := jwt.ParseClaims([]byte(accessToken), m.verifier, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.IsValidAt(m.now()) {
		return "", fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	if m.issuer != "" && !claims.IsIssuer(m.issuer) {
		return "", fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Refresh exchanges a refresh token for a new session token pair.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	if refreshToken == "" {
		return models.SessionTokens{}, ErrSessionNotFound
	}

	session, err := m.store.Take(ctx, refreshToken)
	if err != nil {
		return models.SessionTokens{}, err
	}
	if m.now().After(session.ExpiresAt) {
		return models.SessionTokens{}, ErrRefreshTokenExpired
	}

	return m.Issue(ctx, session.AccountID)
}

// Revoke removes the provided refresh token from the active session store.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	_ = m.store.Delete(ctx, refreshToken)
}

// PurgeExpired removes refresh tokens whose expiry has passed.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.PurgeExpired(ctx, m.now())
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
