package events

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEncodeDecodePropagatesTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	ev := IndexBuilt{BuildID: "b1", Rows: 10, Edges: 50, FinishedAt: time.Unix(1700000000, 0).UTC()}
	msg, err := encode(ctx, "polyrelated.index.built", ev)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("Expected traceparent header")
	}

	gotCtx, got, err := decode[IndexBuilt](msg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.BuildID != "b1" || got.Edges != 50 || !got.FinishedAt.Equal(ev.FinishedAt) {
		t.Errorf("Unexpected event: %+v", got)
	}
	if trace.SpanContextFromContext(gotCtx).TraceID() != traceID {
		t.Error("Trace ID not propagated")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := decode[IndexBuilt](&nats.Msg{Data: []byte("{not json")}); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func TestHeaderCarrierEmpty(t *testing.T) {
	c := (*headerCarrier)(&nats.Msg{})
	if c.Get("traceparent") != "" || c.Keys() != nil {
		t.Error("Expected empty carrier")
	}
	c.Set("k", "v")
	if c.Get("k") != "v" || len(c.Keys()) != 1 {
		t.Error("Set did not store header")
	}
}
