// Package broker publishes engine events to NATS so that downstream
// services (keepers, indexers, notifiers) can follow settlement activity.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atmx/settlement-engine/internal/model"
)

// DefaultPrefix is the subject root when none is configured.
const DefaultPrefix = "settlement"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Publisher is an engine event sink. Each event is published as JSON on
// <prefix>.<instrument>.<collateral>.<type>, e.g.
// settlement.BTC_USD.USDC.position_opened.
type Publisher struct {
	conn   Conn
	prefix string
}

// NewPublisher creates a publisher. An empty prefix uses DefaultPrefix.
func NewPublisher(conn Conn, prefix string) *Publisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev model.Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, ev.Pair.Instrument, ev.Pair.Collateral, ev.Type)
}

func (p *Publisher) Emit(_ context.Context, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event failed", "event_id", ev.ID, "error", err)
		return
	}
	subject := p.Subject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Error("publish event failed", "subject", subject, "event_id", ev.ID, "error", err)
	}
}

// Connect dials NATS with reconnects enabled and connection state changes
// logged.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", url, err)
	}
	return nc, nil
}
