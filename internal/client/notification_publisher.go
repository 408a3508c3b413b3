package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
)

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes engine events to NATS for downstream
// consumers (planning boards, notifications).
//
// Subject convention: <prefix>.<event_type>
//
// All publish operations are non-fatal: errors are logged but never propagated
// to the caller, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn   natsConn
	prefix string
	log    *logger.Logger
}

// Connect dials NATS with reconnect settings suited to a long-lived worker.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops every event.
func NewNotificationPublisher(conn *nats.Conn, prefix string, log *logger.Logger) *NotificationPublisher {
	p := &NotificationPublisher{prefix: prefix, log: log}
	if conn != nil {
		p.conn = conn
	}
	return p
}

// PublishEvent publishes one event. Subject: <prefix>.<event.EventType>
func (p *NotificationPublisher) PublishEvent(ctx context.Context, event *Event) {
	if p == nil || p.conn == nil || event == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.prefix + "." + event.EventType
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Msg("notification: event published")
}
