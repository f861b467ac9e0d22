// Package maintenance runs periodic housekeeping jobs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulsegram/backend/internal/metrics"
)

const jobTimeout = 30 * time.Second

// SessionPurger removes expired refresh sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PresenceCounter reports how many accounts hold a live connection.
type PresenceCounter interface {
	Count() int
}

// Options selects cron schedules. Empty values use the defaults.
type Options struct {
	PurgeSchedule    string
	PresenceSchedule string
}

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron     *cron.Cron
	sessions SessionPurger
	presence PresenceCounter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New registers the jobs. Either collaborator may be nil to skip its job.
func New(sessions SessionPurger, presence PresenceCounter, logger *slog.Logger, m *metrics.Metrics, opts Options) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PurgeSchedule == "" {
		opts.PurgeSchedule = "@hourly"
	}
	if opts.PresenceSchedule == "" {
		opts.PresenceSchedule = "@every 1m"
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		sessions: sessions,
		presence: presence,
		logger:   logger.With(slog.String("component", "maintenance")),
		metrics:  m,
	}

	if sessions != nil {
		if _, err := s.cron.AddFunc(opts.PurgeSchedule, s.purgeSessions); err != nil {
			return nil, fmt.Errorf("schedule session purge %q: %w", opts.PurgeSchedule, err)
		}
	}
	if presence != nil {
		if _, err := s.cron.AddFunc(opts.PresenceSchedule, s.reportPresence); err != nil {
			return nil, fmt.Errorf("schedule presence report %q: %w", opts.PresenceSchedule, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs reports the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := s.sessions.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("purge expired sessions", "error", err)
		return
	}
	s.logger.Info("purged expired sessions", "removed", removed)
}

func (s *Scheduler) reportPresence() {
	online := s.presence.Count()
	s.metrics.SetConnections(online)
	s.logger.Debug("presence snapshot", "online", online)
}
