// Package notifications turns social and content events into per-recipient
// notification records.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegram/backend/internal/events"
	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/metrics"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/repositories"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Store persists notification records.
type Store interface {
	Create(ctx context.Context, n models.Notification) error
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// Event describes something that happened to a recipient's content or graph.
type Event struct {
	RecipientID string
	ActorID     string
	Kind        models.NotificationKind
	ContentRef  string
}

// Fanout records notifications and mirrors them onto the event bus.
type Fanout struct {
	store     Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option customises a Fanout.
type Option func(*Fanout)

// WithPublisher mirrors every stored notification onto p.
func WithPublisher(p events.Publisher) Option {
	return func(f *Fanout) {
		if p != nil {
			f.publisher = p
		}
	}
}

// WithMetrics records created notifications on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fanout) { f.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Fanout) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFanout constructs a Fanout over store.
func NewFanout(store Store, opts ...Option) *Fanout {
	if store == nil {
		panic("notifications: store must not be nil")
	}
	f := &Fanout{
		store:     store,
		publisher: events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Notify appends one unread notification for the event's recipient. Events
// where the actor is the recipient are ignored, as are recipients that no
// longer exist. Repeated events are recorded each time.
func (f *Fanout) Notify(ctx context.Context, ev Event) error {
	if ev.RecipientID == "" || ev.ActorID == "" {
		return fmt.Errorf("notify %s: recipient and actor are required", ev.Kind)
	}
	if ev.RecipientID == ev.ActorID {
		return nil
	}

	logger := logging.FromContext(ctx)

	n := models.Notification{
		ID:          uuid.NewString(),
		RecipientID: ev.RecipientID,
		ActorID:     ev.ActorID,
		Kind:        ev.Kind,
		ContentRef:  ev.ContentRef,
		CreatedAt:   f.now(),
	}

	if err := f.store.Create(ctx, n); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logger.Info("notification recipient missing, skipping",
				slog.String("recipient_id", ev.RecipientID),
				slog.String("kind", string(ev.Kind)),
			)
			return nil
		}
		return fmt.Errorf("create notification: %w", err)
	}

	f.metrics.NotificationCreated(string(ev.Kind))

	msg := events.Message{
		Type:      string(ev.Kind),
		From:      ev.ActorID,
		To:        ev.RecipientID,
		Ref:       ev.ContentRef,
		Important: ev.Kind == models.NotificationFollowRequest,
	}
	if err := f.publisher.Publish(ctx, events.NotificationSubject(ev.RecipientID), msg); err != nil {
		logger.Warn("publish notification event failed", "error", err, "recipient_id", ev.RecipientID)
	}

	return nil
}

// List returns the recipient's notifications, newest first.
func (f *Fanout) List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return f.store.ListForRecipient(ctx, recipientID, limit)
}

// UnreadCount reports how many of the recipient's notifications are unread.
func (f *Fanout) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return f.store.CountUnread(ctx, recipientID)
}

// MarkAllRead sets the read flag on every notification of the recipient and
// reports how many changed. Calling it again is harmless.
func (f *Fanout) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	if recipientID == "" {
		return 0, errors.New("recipient id is required")
	}
	return f.store.MarkAllRead(ctx, recipientID)
}
