// Package events carries index lifecycle notifications over NATS.
// Messages are JSON with OpenTelemetry trace context propagated in NATS headers, so a
// cache purge in the API can be traced back to the build that caused it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/rewired-gh/polyrelated/internal/logger"
)

// IndexBuilt announces a completed batch build.
type IndexBuilt struct {
	BuildID    string    `json:"build_id"`
	Rows       int       `json:"rows"`
	Edges      int       `json:"edges"`
	Relations  int       `json:"relations"`
	FinishedAt time.Time `json:"finished_at"`
}

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
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

// encode builds a message for v with trace context from ctx.
func encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// decode unpacks a message and the trace context it carries.
func decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, err
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ctx, v, nil
}

// Bus publishes and subscribes to index notifications on one subject.
type Bus struct {
	nc      *nats.Conn
	subject string
}

// Connect dials NATS and returns a bus bound to subject.
func Connect(url, subject string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("polyrelated"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Bus{nc: nc, subject: subject}, nil
}

// PublishIndexBuilt announces a completed build.
func (b *Bus) PublishIndexBuilt(ctx context.Context, ev IndexBuilt) error {
	msg, err := encode(ctx, b.subject, ev)
	if err != nil {
		return fmt.Errorf("failed to encode index event: %w", err)
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish index event: %w", err)
	}
	return b.nc.FlushWithContext(ctx)
}

// OnIndexBuilt registers handler for build announcements. Malformed messages are
// logged and dropped.
func (b *Bus) OnIndexBuilt(handler func(context.Context, IndexBuilt)) (*nats.Subscription, error) {
	return b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		ctx, ev, err := decode[IndexBuilt](msg)
		if err != nil {
			logger.Warn("Dropping malformed index event on %s: %v", msg.Subject, err)
			return
		}
		handler(ctx, ev)
	})
}

// Close drains the connection.
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		logger.Warn("Failed to drain nats connection: %v", err)
	}
}
