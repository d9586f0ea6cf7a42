package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

const subjectPrefix = "fusly.mapping."

// Subject returns the NATS subject an event kind is published on.
func Subject(kind domain.EventKind) string {
	return subjectPrefix + string(kind)
}

// NATS publishes lifecycle events on core NATS subjects.
type NATS struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATS(url string, logger *zap.Logger) (*NATS, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("fusly"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn, logger: logger}, nil
}

func (n *NATS) Publish(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.conn.Publish(Subject(event.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

var _ ports.EventPublisher = (*NATS)(nil)
