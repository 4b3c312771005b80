// Package publish fans detected locations out to other services.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/config"
	"github.com/hyperjump/basho/internal/models"
)

// Publisher delivers location records.
type Publisher interface {
	Publish(ctx context.Context, rec models.LocationRecord) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Publish(context.Context, models.LocationRecord) error { return nil }

func (Nop) Close() error { return nil }

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATSPublisher publishes each record as JSON on one subject, with the trace context
// from ctx in the message headers.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("basho"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject, owned: true}, nil
}

// NewNATSPublisherConn publishes on an existing connection, which Close leaves open.
func NewNATSPublisherConn(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

// Publish sends rec.
func (p *NATSPublisher) Publish(ctx context.Context, rec models.LocationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Subject returns the subject records are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Close flushes pending messages and closes the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	err := p.nc.Flush()
	p.nc.Close()
	return err
}

// New returns a NATS publisher for cfg, or Nop when no URL is set. An unreachable server
// is logged once and also yields Nop.
func New(cfg config.PublishConfig, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NATSURL == "" {
		return Nop{}
	}
	p, err := NewNATSPublisher(cfg.NATSURL, cfg.Subject)
	if err != nil {
		logger.Warn("location publishing disabled", zap.String("url", cfg.NATSURL), zap.Error(err))
		return Nop{}
	}
	logger.Info("publishing locations", zap.String("url", cfg.NATSURL), zap.String("subject", cfg.Subject))
	return p
}
