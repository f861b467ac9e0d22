package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/messaging"
	"github.com/pulsegram/backend/internal/presence"
	"github.com/pulsegram/backend/internal/repositories"
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	AccountID string `json:"account_id"`
}

// client is one live connection. Only writePump writes to conn.
type client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send       chan presence.Event
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	authAccount string
	// account is set by join and only touched by the reading goroutine.
	account string

	limiter *rate.Limiter
	logger  *slog.Logger
}

func (c *client) ID() string { return c.id }

// Send queues ev for the writer. A full queue or a closing connection drops
// the event.
func (c *client) Send(ev presence.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close asks the writer to send a close frame and tear the connection down.
func (c *client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *client) readPump(ctx context.Context) {
	opts := c.server.opts
	defer func() {
		c.server.registry.Unregister(c)
		_ = c.Close()
		<-c.writerDone
	}()

	c.conn.SetReadLimit(opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.IdleTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(opts.IdleTimeout))

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("malformed event")
			continue
		}

		switch in.Event {
		case EventJoin:
			c.handleJoin(in.Data)
		case EventSendMessage:
			c.handleSendMessage(ctx, in.Data)
		default:
			c.sendError("unknown event " + in.Event)
		}
	}
}

func (c *client) handleJoin(raw json.RawMessage) {
	accountID, ok := parseJoin(raw)
	if !ok {
		c.sendError("account id is required")
		return
	}
	if c.authAccount != "" && accountID != c.authAccount {
		c.sendError("cannot join as another account")
		return
	}
	if c.account != "" && c.account != accountID {
		c.sendError("connection already joined")
		return
	}

	c.account = accountID
	c.logger = c.logger.With(slog.String("account_id", accountID))
	c.server.registry.Register(accountID, c)
}

// parseJoin accepts either a bare account id string or {"account_id": ...}.
func parseJoin(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var payload joinPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", false
		}
		id = payload.AccountID
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

func (c *client) handleSendMessage(ctx context.Context, raw json.RawMessage) {
	if c.account == "" {
		c.sendError("join before sending messages")
		return
	}

	var req messaging.SendRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError("malformed message")
		return
	}
	if req.SenderID == "" {
		req.SenderID = c.account
	}
	if req.SenderID != c.account {
		c.sendError("sender does not match joined account")
		return
	}
	if !c.limiter.Allow() {
		c.sendError("too many messages")
		return
	}

	ctx = logging.WithLogger(ctx, c.logger)
	if _, err := c.server.messages.Send(ctx, req, c); err != nil {
		switch {
		case errors.Is(err, messaging.ErrEmptyContent), errors.Is(err, messaging.ErrMissingParticipant):
			c.sendError(err.Error())
		case errors.Is(err, repositories.ErrNotFound):
			c.sendError("recipient not found")
		default:
			c.logger.Error("send message failed", "error", err)
			c.sendError("failed to send message")
		}
	}
}

func (c *client) sendError(message string) {
	if !c.Send(presence.Event{Name: presence.EventError, Data: presence.ErrorPayload{Message: message}}) {
		c.server.metrics.SocketEventDropped()
	}
}

func (c *client) writePump() {
	opts := c.server.opts
	ticker := time.NewTicker(opts.pingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
