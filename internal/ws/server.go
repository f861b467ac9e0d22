// Package ws serves the live-connection protocol over websockets.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/messaging"
	"github.com/pulsegram/backend/internal/metrics"
	"github.com/pulsegram/backend/internal/middleware"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/presence"
)

// Client-to-server event names.
const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
)

// MessageSender stores and routes direct messages.
type MessageSender interface {
	Send(ctx context.Context, req messaging.SendRequest, origin presence.Conn) (models.Message, error)
}

// Options tunes connection handling. Zero values fall back to defaults.
type Options struct {
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	SendQueue       int
	MaxMessageBytes int64
	SendRate        float64
	SendBurst       int
	CheckOrigin     func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 16 * 1024
	}
	if o.SendRate <= 0 {
		o.SendRate = 5
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 20
	}
	return o
}

func (o Options) pingInterval() time.Duration {
	return o.IdleTimeout * 9 / 10
}

// Server upgrades HTTP requests to websocket connections and runs one reader
// and one writer goroutine per connection.
type Server struct {
	registry *presence.Registry
	messages MessageSender
	verifier middleware.TokenVerifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewServer wires a Server. verifier may be nil, in which case join is
// trusted as sent.
func NewServer(registry *presence.Registry, messages MessageSender, verifier middleware.TokenVerifier, logger *slog.Logger, m *metrics.Metrics, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Server{
		registry: registry,
		messages: messages,
		verifier: verifier,
		logger:   logger,
		metrics:  m,
		opts:     opts,
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// ServeHTTP implements GET /ws.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	logger := logging.FromContext(r.Context())

	var authAccount string
	if s.verifier != nil {
		id, err := s.verifier.Verify(middleware.BearerToken(r))
		if err != nil {
			logger.Warn("websocket upgrade rejected", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		authAccount = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	connLogger := s.logger.With(slog.String("conn_id", connID))
	if requestID := logging.RequestIDFromContext(r.Context()); requestID != "" {
		connLogger = connLogger.With(slog.String("request_id", requestID))
	}

	c := &client{
		id:          connID,
		conn:        conn,
		server:      s,
		send:        make(chan presence.Event, s.opts.SendQueue),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		authAccount: authAccount,
		limiter:     rate.NewLimiter(rate.Limit(s.opts.SendRate), s.opts.SendBurst),
		logger:      connLogger,
	}

	if !s.track(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.opts.WriteTimeout))
		_ = conn.Close()
		return
	}
	defer s.untrack(c)

	ctx, cancel := context.WithCancel(logging.WithLogger(context.WithoutCancel(r.Context()), connLogger))
	defer cancel()

	connLogger.Info("websocket connected", "remote_addr", r.RemoteAddr)
	go c.writePump()
	c.readPump(ctx)
	connLogger.Info("websocket disconnected", "account_id", c.account)
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close closes every open connection, joined or not, and refuses new ones.
// Connections replaced by a newer one for the same account are closed too.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	open := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		_ = c.Close()
	}
}

// Wait blocks until every connection has finished its cleanup or ctx ends.
// Call it after Close.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
