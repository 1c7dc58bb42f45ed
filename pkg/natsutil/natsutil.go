// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are silently dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return // drop malformed messages
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}

// Topic is a fire-and-forget publisher for one subject. Publish failures are
// logged and counted rather than returned, so a slow or absent broker never
// fails the caller.
type Topic[T any] struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
	dropped atomic.Int64
}

// NewTopic binds subject on nc.
func NewTopic[T any](nc *nats.Conn, subject string, log *slog.Logger) *Topic[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Topic[T]{nc: nc, subject: subject, log: log}
}

// Subject returns the bound subject.
func (t *Topic[T]) Subject() string { return t.subject }

// Emit publishes v.
func (t *Topic[T]) Emit(ctx context.Context, v T) {
	if err := Publish(ctx, t.nc, t.subject, v); err != nil {
		t.dropped.Add(1)
		t.log.Warn("nats publish failed", "subject", t.subject, "err", err)
	}
}

// Dropped is the number of events that could not be published.
func (t *Topic[T]) Dropped() int64 { return t.dropped.Load() }
