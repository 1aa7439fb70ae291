// Package ingest feeds trigger events from a message bus into the
// orchestrator, for source modules that publish rather than call HTTP.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/daryls-hrplus/intellihrm-sub073/actions"
	"github.com/daryls-hrplus/intellihrm-sub073/internal/logger"
	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// Submitter accepts trigger events; satisfied by *actions.Orchestrator.
type Submitter interface {
	SubmitTriggerEvent(ctx context.Context, event rules.TriggerEvent) ([]*actions.Execution, error)
}

// Consumer subscribes to a NATS subject carrying TriggerEvent JSON and
// submits each message. Malformed or invalid events are logged and dropped;
// publishers are never blocked by downstream failures. Duplicate deliveries
// are harmless because ingestion is idempotent.
type Consumer struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	orch    Submitter
}

// NewConsumer connects to NATS at url.
func NewConsumer(url, subject string, orch Submitter) (*Consumer, error) {
	if subject == "" {
		return nil, fmt.Errorf("ingest subject is required")
	}
	conn, err := nats.Connect(url, nats.Name("action-orchestrator-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Consumer{conn: conn, subject: subject, orch: orch}, nil
}

// Start subscribes and processes messages until Close.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.sub = sub
	logger.Info("trigger event ingest started", "subject", c.subject)
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var event rules.TriggerEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logger.Warn("discarding undecodable trigger event", "subject", msg.Subject, "error", err)
		return
	}

	if _, err := c.orch.SubmitTriggerEvent(ctx, event); err != nil {
		if rules.IsValidation(err) {
			logger.Warn("discarding invalid trigger event",
				"event_type", event.EventType,
				"subject_id", event.SubjectID,
				"error", err)
			return
		}
		logger.Error("trigger event submission failed",
			"event_type", event.EventType,
			"subject_id", event.SubjectID,
			"error", err)
	}
}

// Close drains the subscription and closes the connection.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
