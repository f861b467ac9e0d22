// Package social implements the follow graph state machine.
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsegram/backend/internal/keylock"
	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/metrics"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/notifications"
	"github.com/pulsegram/backend/internal/repositories"
)

var (
	// ErrSelfFollow is returned when an account tries to follow itself.
	ErrSelfFollow = errors.New("cannot follow yourself")
	// ErrInvalidDecision is returned for a response that is neither accept nor reject.
	ErrInvalidDecision = errors.New("action must be accept or reject")
	// ErrAccountSuspended is returned when the target account is suspended.
	ErrAccountSuspended = errors.New("account is suspended")
	// ErrMissingAccount is returned when an identifier is blank.
	ErrMissingAccount = errors.New("account ids are required")
)

// Decision is a followee's answer to a pending request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision validates a client supplied decision.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(raw) {
	case DecisionAccept, DecisionReject:
		return Decision(raw), nil
	default:
		return "", ErrInvalidDecision
	}
}

// EdgeStore persists follow edges. Toggle deletes the edge for the pair when
// one exists and inserts edge otherwise, reporting whether it inserted. It
// returns repositories.ErrConflict when a concurrent writer inserted the same
// pair first.
type EdgeStore interface {
	Toggle(ctx context.Context, edge models.FollowEdge) (bool, error)
	Delete(ctx context.Context, followerID, followeeID string) (bool, error)
	Get(ctx context.Context, followerID, followeeID string) (models.FollowEdge, error)
	Accept(ctx context.Context, followerID, followeeID string, at time.Time) (bool, error)
	DeletePending(ctx context.Context, followerID, followeeID string) (bool, error)
	ListFollowers(ctx context.Context, accountID string) ([]models.FollowEdge, error)
	ListFollowing(ctx context.Context, accountID string) ([]models.FollowEdge, error)
	ListPending(ctx context.Context, followeeID string) ([]models.FollowEdge, error)
}

// AccountLookup resolves accounts for privacy and suspension checks.
type AccountLookup interface {
	Get(ctx context.Context, id string) (models.Account, error)
}

// Notifier receives follow events.
type Notifier interface {
	Notify(ctx context.Context, ev notifications.Event) error
}

// Graph applies follow transitions and emits the matching notifications.
type Graph struct {
	edges    EdgeStore
	accounts AccountLookup
	notifier Notifier
	metrics  *metrics.Metrics
	locks    *keylock.Locker
	now      func() time.Time
}

// NewGraph constructs a Graph.
func NewGraph(edges EdgeStore, accounts AccountLookup, notifier Notifier, m *metrics.Metrics) *Graph {
	if edges == nil || accounts == nil || notifier == nil {
		panic("social: edges, accounts and notifier must not be nil")
	}
	return &Graph{
		edges:    edges,
		accounts: accounts,
		notifier: notifier,
		metrics:  m,
		locks:    keylock.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestFollow toggles the follow edge from follower to followee. A missing
// edge is created as accepted for public accounts and pending for private
// ones; an existing edge of either status is removed.
func (g *Graph) RequestFollow(ctx context.Context, followerID, followeeID string) (models.FollowStatus, error) {
	if followerID == "" || followeeID == "" {
		return "", ErrMissingAccount
	}
	if followerID == followeeID {
		return "", ErrSelfFollow
	}

	ctx, span := logging.StartSpan(ctx, "social.request_follow")
	defer span.End()

	target, err := g.accounts.Get(ctx, followeeID)
	if err != nil {
		span.Fail(err)
		return "", fmt.Errorf("load followee: %w", err)
	}
	if target.Suspended {
		return "", ErrAccountSuspended
	}

	status := models.FollowAccepted
	if target.Private {
		status = models.FollowPending
	}

	unlock := g.locks.Lock(keylock.Pair(followerID, followeeID))
	defer unlock()

	created, err := g.edges.Toggle(ctx, models.FollowEdge{
		FollowerID: followerID,
		FolloweeID: followeeID,
		Status:     status,
		CreatedAt:  g.now(),
	})
	switch {
	case errors.Is(err, repositories.ErrConflict):
		// another writer inserted the pair between our read and insert
		if _, err := g.edges.Delete(ctx, followerID, followeeID); err != nil {
			span.Fail(err)
			return "", fmt.Errorf("resolve concurrent follow: %w", err)
		}
		created = false
	case err != nil:
		span.Fail(err)
		return "", fmt.Errorf("toggle follow: %w", err)
	}

	if !created {
		g.metrics.FollowTransition(string(models.FollowUnfollowed))
		return models.FollowUnfollowed, nil
	}

	g.metrics.FollowTransition(string(status))
	kind := models.NotificationFollow
	if status == models.FollowPending {
		kind = models.NotificationFollowRequest
	}
	g.notify(ctx, followerID, followeeID, kind)

	return status, nil
}

// Respond applies the followee's decision to a pending request. Responses to
// edges that are missing or already accepted change nothing.
func (g *Graph) Respond(ctx context.Context, followerID, followeeID string, decision Decision) error {
	if followerID == "" || followeeID == "" {
		return ErrMissingAccount
	}
	if _, err := ParseDecision(string(decision)); err != nil {
		return err
	}

	unlock := g.locks.Lock(keylock.Pair(followerID, followeeID))
	defer unlock()

	switch decision {
	case DecisionAccept:
		changed, err := g.edges.Accept(ctx, followerID, followeeID, g.now())
		if err != nil {
			return fmt.Errorf("accept follow request: %w", err)
		}
		if changed {
			g.metrics.FollowTransition(string(models.FollowAccepted))
			g.notify(ctx, followerID, followeeID, models.NotificationFollow)
		}
	case DecisionReject:
		removed, err := g.edges.DeletePending(ctx, followerID, followeeID)
		if err != nil {
			return fmt.Errorf("reject follow request: %w", err)
		}
		if removed {
			g.metrics.FollowTransition("rejected")
		}
	}
	return nil
}

// IsFollowing reports whether an accepted edge exists from follower to followee.
func (g *Graph) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	edge, err := g.edges.Get(ctx, followerID, followeeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return edge.Status == models.FollowAccepted, nil
}

// CanView reports whether viewer may see content owned by owner.
func (g *Graph) CanView(ctx context.Context, viewerID, ownerID string) (bool, error) {
	if viewerID == ownerID {
		return true, nil
	}
	owner, err := g.accounts.Get(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if !owner.Private {
		return true, nil
	}
	return g.IsFollowing(ctx, viewerID, ownerID)
}

// Followers lists accounts with an accepted edge to accountID.
func (g *Graph) Followers(ctx context.Context, accountID string) ([]string, error) {
	edges, err := g.edges.ListFollowers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.FollowerID)
	}
	return ids, nil
}

// Following lists accounts accountID follows with an accepted edge.
func (g *Graph) Following(ctx context.Context, accountID string) ([]string, error) {
	edges, err := g.edges.ListFollowing(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.FolloweeID)
	}
	return ids, nil
}

// PendingRequests lists pending edges awaiting accountID's decision.
func (g *Graph) PendingRequests(ctx context.Context, accountID string) ([]models.FollowEdge, error) {
	return g.edges.ListPending(ctx, accountID)
}

func (g *Graph) notify(ctx context.Context, followerID, followeeID string, kind models.NotificationKind) {
	err := g.notifier.Notify(ctx, notifications.Event{
		RecipientID: followeeID,
		ActorID:     followerID,
		Kind:        kind,
	})
	if err != nil {
		logging.FromContext(ctx).Error("follow notification failed",
			slog.String("follower_id", followerID),
			slog.String("followee_id", followeeID),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
}
