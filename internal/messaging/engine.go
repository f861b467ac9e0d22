// Package messaging persists direct messages and routes them to live
// connections.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pulsegram/backend/internal/keylock"
	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/metrics"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/presence"
)

var (
	// ErrEmptyContent is returned when a message has no visible content.
	ErrEmptyContent = errors.New("message content is required")
	// ErrMissingParticipant is returned when the sender or recipient is blank.
	ErrMissingParticipant = errors.New("sender and recipient are required")
)

// DefaultHistoryLimit caps History when the caller passes a non-positive limit.
const DefaultHistoryLimit = 100

// Store persists messages. Create returns the stored message with its
// insertion sequence populated.
type Store interface {
	Create(ctx context.Context, msg models.Message) (models.Message, error)
	ListConversation(ctx context.Context, a, b string, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, readerID, peerID string) (int64, error)
}

// Directory resolves an account to its live connection.
type Directory interface {
	Lookup(accountID string) (presence.Conn, bool)
}

// SendRequest is the client's send_message payload.
type SendRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"receiver_id"`
	Content     string `json:"content"`
}

// Engine persists messages and pushes them to the participants.
type Engine struct {
	store     Store
	directory Directory
	clock     *Clock
	locks     *keylock.Locker
	metrics   *metrics.Metrics
}

// NewEngine wires an Engine. A nil clock uses the wall clock.
func NewEngine(store Store, directory Directory, clock *Clock, m *metrics.Metrics) *Engine {
	if store == nil || directory == nil {
		panic("messaging: store and directory must not be nil")
	}
	if clock == nil {
		clock = NewClock(nil)
	}
	return &Engine{
		store:     store,
		directory: directory,
		clock:     clock,
		locks:     keylock.New(),
		metrics:   m,
	}
}

// Send stores the message, pushes new_message to the recipient when online
// and always pushes message_sent to the sender. origin is the connection the
// request arrived on; when nil the sender's registered connection is used.
// An offline recipient is not an error.
func (e *Engine) Send(ctx context.Context, req SendRequest, origin presence.Conn) (models.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	if req.SenderID == "" || req.RecipientID == "" {
		return models.Message{}, ErrMissingParticipant
	}

	ctx, span := logging.StartSpan(ctx, "messaging.send")
	defer span.End()
	logger := logging.FromContext(ctx)

	unlock := e.locks.Lock(keylock.Pair(req.SenderID, req.RecipientID))
	defer unlock()

	msg, err := e.store.Create(ctx, models.Message{
		ID:          uuid.NewString(),
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		CreatedAt:   e.clock.Next(),
	})
	if err != nil {
		span.Fail(err)
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	delivered := false
	if conn, ok := e.directory.Lookup(req.RecipientID); ok {
		delivered = conn.Send(presence.Event{Name: presence.EventNewMessage, Data: msg})
		if !delivered {
			e.metrics.SocketEventDropped()
		}
	}
	e.metrics.MessageSent(delivered)

	if origin == nil {
		origin, _ = e.directory.Lookup(req.SenderID)
	}
	if origin != nil && !origin.Send(presence.Event{Name: presence.EventMessageSent, Data: msg}) {
		e.metrics.SocketEventDropped()
		logger.Warn("message confirmation dropped", slog.String("message_id", msg.ID))
	}

	logger.Info("message stored",
		slog.String("message_id", msg.ID),
		slog.String("sender_id", msg.SenderID),
		slog.String("recipient_id", msg.RecipientID),
		slog.Bool("delivered", delivered),
	)

	return msg, nil
}

// History returns the conversation between a and b in send order.
func (e *Engine) History(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	if a == "" || b == "" {
		return nil, ErrMissingParticipant
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return e.store.ListConversation(ctx, a, b, limit)
}

// MarkConversationRead marks every message from peer to reader as read.
func (e *Engine) MarkConversationRead(ctx context.Context, readerID, peerID string) (int64, error) {
	if readerID == "" || peerID == "" {
		return 0, ErrMissingParticipant
	}
	return e.store.MarkConversationRead(ctx, readerID, peerID)
}
