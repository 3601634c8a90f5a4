// Package events announces finalized runs on NATS.
//
// Each finalized artifact is published to
//
//	{subject}.{status}
//
// e.g. assessd.runs.finalized.approved, so consumers can subscribe to one
// outcome or to {subject}.> for all of them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// Event is the message body for a finalized run.
type Event struct {
	RunID           string               `json:"run_id"`
	RequesterID     string               `json:"user_id,omitempty"`
	Status          content.Status       `json:"status"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	Attempts        int                  `json:"attempts"`
	Grade           int                  `json:"grade"`
	Topic           string               `json:"topic"`
	FinishedAt      time.Time            `json:"finished_at"`
	Artifact        *content.RunArtifact `json:"artifact,omitempty"`
}

// NewEvent summarizes art.
func NewEvent(art *content.RunArtifact) Event {
	return Event{
		RunID:           art.RunID,
		RequesterID:     art.RequesterID,
		Status:          art.Final.Status,
		RejectionReason: art.Final.RejectionReason,
		Attempts:        len(art.Attempts),
		Grade:           art.Input.Grade,
		Topic:           art.Input.Topic,
		FinishedAt:      art.Timestamps.FinishedAt,
		Artifact:        art,
	}
}

// Publisher announces finalized runs.
type Publisher interface {
	Publish(ctx context.Context, art *content.RunArtifact) error
	Close() error
}

// Nop discards events. It is used when no NATS URL is configured.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, *content.RunArtifact) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
	owned   bool
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("assessd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
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
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, subject, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher publishes on an existing connection. Close leaves nc
// open.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}
}

// Subject returns the subject art is published on.
func (p *NATSPublisher) Subject(art *content.RunArtifact) string {
	return fmt.Sprintf("%s.%s", p.subject, art.Final.Status)
}

// Publish sends the finalized-run event for art.
func (p *NATSPublisher) Publish(ctx context.Context, art *content.RunArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewEvent(art))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(art))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, art.RunID)
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}

	p.logger.Debug("run event published",
		zap.String("subject", msg.Subject),
		zap.String("run_id", art.RunID),
	)
	return nil
}

// Close drains the connection if the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// Subscribe delivers events published under subject until ctx is done.
// subject may use NATS wildcards.
func Subscribe(ctx context.Context, nc *nats.Conn, subject string, fn func(Event)) error {
	ch := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}
}
