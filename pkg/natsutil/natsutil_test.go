package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	carrier := (*natsHeaderCarrier)(&nats.Msg{})

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestTraceContextSurvivesHeaders(t *testing.T) {
	prop := propagation.TraceContext{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x01},
		SpanID:     trace.SpanID{0x0b, 0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	msg := &nats.Msg{Subject: "graphbulk.progress"}
	prop.Inject(ctx, (*natsHeaderCarrier)(msg))
	if msg.Header.Get("traceparent") == "" {
		t.Fatalf("traceparent not injected: %v", msg.Header)
	}
	if keys := (*natsHeaderCarrier)(msg).Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), (*natsHeaderCarrier)(msg)))
	if got.TraceID() != sc.TraceID() || got.SpanID() != sc.SpanID() || !got.IsSampled() {
		t.Fatalf("extracted %v, want %v", got, sc)
	}
}
