// Package events publishes domain events to the message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher delivers an event payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Message is the envelope published for social events.
type Message struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Ref       string `json:"ref,omitempty"`
	Important bool   `json:"important"`
}

// NotificationSubject returns the subject events for a recipient are published on.
func NotificationSubject(recipientID string) string {
	return "notifications." + recipientID
}

// NATSPublisher publishes JSON payloads on a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// ConnectNATS dials the NATS server at url.
func ConnectNATS(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("pulsegram"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish marshals payload and publishes it on subject.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) error { return nil }
