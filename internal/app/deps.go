package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pulsegram/backend/internal/accounts"
	"github.com/pulsegram/backend/internal/auth"
	"github.com/pulsegram/backend/internal/config"
	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/engagement"
	"github.com/pulsegram/backend/internal/events"
	"github.com/pulsegram/backend/internal/handlers"
	"github.com/pulsegram/backend/internal/maintenance"
	"github.com/pulsegram/backend/internal/messaging"
	"github.com/pulsegram/backend/internal/metrics"
	"github.com/pulsegram/backend/internal/middleware"
	"github.com/pulsegram/backend/internal/notifications"
	"github.com/pulsegram/backend/internal/presence"
	"github.com/pulsegram/backend/internal/repositories"
	"github.com/pulsegram/backend/internal/social"
	"github.com/pulsegram/backend/internal/ws"
)

var (
	_ social.EdgeStore          = (*repositories.PostgresFollowRepository)(nil)
	_ notifications.Store       = (*repositories.PostgresNotificationRepository)(nil)
	_ messaging.Store           = (*repositories.PostgresMessageRepository)(nil)
	_ engagement.PostStore      = (*repositories.PostgresPostRepository)(nil)
	_ engagement.LikeStore      = (*repositories.PostgresLikeRepository)(nil)
	_ engagement.CommentStore   = (*repositories.PostgresCommentRepository)(nil)
	_ accounts.Store            = (*repositories.PostgresAccountRepository)(nil)
	_ handlers.AccountStore     = (*repositories.PostgresAccountRepository)(nil)
	_ handlers.FollowGraph      = (*social.Graph)(nil)
	_ handlers.Engagement       = (*engagement.Service)(nil)
	_ handlers.NotificationFeed = (*notifications.Fanout)(nil)
	_ handlers.Conversations    = (*messaging.Engine)(nil)
	_ middleware.TokenVerifier  = (*auth.Manager)(nil)
	_ ws.MessageSender          = (*messaging.Engine)(nil)
)

// services holds everything serve needs to run and shut down.
type services struct {
	handlers  handlers.Dependencies
	registry  *presence.Registry
	socket    *ws.Server
	scheduler *maintenance.Scheduler
	metrics   *metrics.Metrics
	closers   []func(context.Context) error
}

// close releases external connections in reverse order of creation.
func (s *services) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildDependencies wires together the concrete implementations used by the
// HTTP handlers and the websocket server.
func buildDependencies(pool db.Pool, cfg config.Config, logger *slog.Logger) (*services, error) {
	svc := &services{}
	if cfg.MetricsEnable {
		svc.metrics = metrics.New()
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		publisher = nc
		svc.closers = append(svc.closers, func(context.Context) error { return nc.Close() })
	}

	var cache accounts.Cache = accounts.NewMemoryCache()
	if cfg.MemcacheAddr != "" {
		cache = accounts.NewMemcacheCache(strings.Split(cfg.MemcacheAddr, ",")...)
	}

	accountRepo := repositories.NewPostgresAccountRepository(pool)
	directory := accounts.NewCachingLookup(accountRepo, cache, cfg.AccountTTL, logger)

	fanout := notifications.NewFanout(
		repositories.NewPostgresNotificationRepository(pool),
		notifications.WithPublisher(publisher),
		notifications.WithMetrics(svc.metrics),
	)
	graph := social.NewGraph(repositories.NewPostgresFollowRepository(pool), directory, fanout, svc.metrics)
	engage := engagement.NewService(
		repositories.NewPostgresPostRepository(pool),
		repositories.NewPostgresLikeRepository(pool),
		repositories.NewPostgresCommentRepository(pool),
		graph,
		fanout,
	)

	svc.registry = presence.NewRegistry(logger, svc.metrics)
	engine := messaging.NewEngine(repositories.NewPostgresMessageRepository(pool), svc.registry, nil, svc.metrics)

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		logger.Warn("no JWT secret configured; using an ephemeral key")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	sessions, err := auth.NewManager(secret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL, repositories.NewPostgresSessionStore(pool))
	if err != nil {
		return nil, err
	}

	var verifier middleware.TokenVerifier
	if cfg.RequireAuth {
		verifier = sessions
	}

	svc.socket = ws.NewServer(svc.registry, engine, verifier, logger, svc.metrics, ws.Options{
		IdleTimeout:     cfg.SocketIdleTimeout,
		WriteTimeout:    cfg.SocketWriteTimeout,
		SendQueue:       cfg.SocketSendQueue,
		MaxMessageBytes: cfg.SocketMaxMessage,
		SendRate:        cfg.SocketSendRate,
		SendBurst:       cfg.SocketSendBurst,
	})

	svc.scheduler, err = maintenance.New(sessions, svc.registry, logger, svc.metrics, maintenance.Options{
		PurgeSchedule: cfg.SessionPurgeSchedule,
	})
	if err != nil {
		return nil, err
	}

	svc.handlers = handlers.Dependencies{
		Accounts:      accountRepo,
		AccountCache:  directory,
		Sessions:      sessions,
		Graph:         graph,
		Engagement:    engage,
		Notifications: fanout,
		Conversations: engine,
		Presence:      svc.registry,
		Verifier:      verifier,
		AuthLimiter:   middleware.NewKeyedLimiter(middleware.LimiterOptions{Requests: cfg.AuthRateLimit, Window: cfg.AuthRateWindow}),
		WriteLimiter:  middleware.NewKeyedLimiter(middleware.LimiterOptions{Requests: cfg.WriteRateLimit, Window: cfg.WriteRateWindow}),
		Socket:        svc.socket,
	}
	if svc.metrics != nil {
		svc.handlers.Metrics = svc.metrics.Handler()
	}

	return svc, nil
}
