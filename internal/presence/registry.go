// Package presence tracks which accounts currently hold a live connection.
package presence

import (
	"log/slog"
	"sync"

	"github.com/pulsegram/backend/internal/metrics"
)

// Server-to-client event names.
const (
	EventUserStatus  = "user_status"
	EventNewMessage  = "new_message"
	EventMessageSent = "message_sent"
	EventError       = "error"
)

// Status values carried by user_status events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is a named payload pushed to a live connection.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// StatusChange is the payload of a user_status event.
type StatusChange struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Conn is a live transport handle. Send must not block: it queues the event
// for the connection's writer and reports whether it was accepted.
type Conn interface {
	ID() string
	Send(ev Event) bool
	Close() error
}

// Registry maps an account to its current connection. The most recent
// Register for an account wins; an older handle is left open but is no
// longer reachable through the registry.
type Registry struct {
	mu        sync.RWMutex
	byAccount map[string]Conn
	owners    map[string]string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byAccount: make(map[string]Conn),
		owners:    make(map[string]string),
		logger:    logger,
		metrics:   m,
	}
}

// Register binds conn to accountID, replacing any previous handle, and
// announces the account as online to every registered connection.
func (r *Registry) Register(accountID string, conn Conn) {
	if accountID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	if prev, ok := r.byAccount[accountID]; ok && prev.ID() != conn.ID() {
		delete(r.owners, prev.ID())
		r.logger.Info("replacing live connection",
			slog.String("account_id", accountID),
			slog.String("previous_conn_id", prev.ID()),
			slog.String("conn_id", conn.ID()),
		)
	}
	if oldAccount, ok := r.owners[conn.ID()]; ok && oldAccount != accountID {
		if current, ok := r.byAccount[oldAccount]; ok && current.ID() == conn.ID() {
			delete(r.byAccount, oldAccount)
		}
	}
	r.byAccount[accountID] = conn
	r.owners[conn.ID()] = accountID
	targets := r.snapshotLocked()
	size := len(r.byAccount)
	r.mu.Unlock()

	r.metrics.SetConnections(size)
	r.broadcast(targets, StatusChange{AccountID: accountID, Status: StatusOnline})
}

// Unregister removes conn if, and only if, it is still the current handle for
// its account. It reports whether an entry was removed; an offline status is
// broadcast in that case.
func (r *Registry) Unregister(conn Conn) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	accountID, ok := r.owners[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.owners, conn.ID())

	current, ok := r.byAccount[accountID]
	if !ok || current.ID() != conn.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.byAccount, accountID)
	targets := r.snapshotLocked()
	size := len(r.byAccount)
	r.mu.Unlock()

	r.metrics.SetConnections(size)
	r.broadcast(targets, StatusChange{AccountID: accountID, Status: StatusOffline})
	return true
}

// Lookup returns the current handle for accountID.
func (r *Registry) Lookup(accountID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byAccount[accountID]
	return conn, ok
}

// Online reports whether accountID has a registered handle.
func (r *Registry) Online(accountID string) bool {
	_, ok := r.Lookup(accountID)
	return ok
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAccount)
}

// Close closes every registered handle and empties the registry. No status
// events are sent.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.snapshotLocked()
	r.byAccount = make(map[string]Conn)
	r.owners = make(map[string]string)
	r.mu.Unlock()

	r.metrics.SetConnections(0)
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Debug("close connection during shutdown", "conn_id", conn.ID(), "error", err)
		}
	}
}

func (r *Registry) snapshotLocked() []Conn {
	out := make([]Conn, 0, len(r.byAccount))
	for _, conn := range r.byAccount {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) broadcast(targets []Conn, change StatusChange) {
	ev := Event{Name: EventUserStatus, Data: change}
	for _, conn := range targets {
		if !conn.Send(ev) {
			r.metrics.SocketEventDropped()
			r.logger.Debug("status event dropped", "conn_id", conn.ID(), "account_id", change.AccountID)
		}
	}
}
