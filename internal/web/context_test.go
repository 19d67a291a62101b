package web

import (
	"context"
	"testing"
	"time"
)

func TestValues(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("got request id %q outside a request", got)
	}
	if got := GetTraceID(ctx); got != "00000000000000000000000000000000" {
		t.Errorf("got trace id %q outside a request", got)
	}

	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	ctx = SetValues(ctx, &Values{TraceID: "t", RequestID: "r", Now: now})

	if got := GetRequestID(ctx); got != "r" {
		t.Errorf("got request id %q want %q", got, "r")
	}
	if got := GetTime(ctx); !got.Equal(now) {
		t.Errorf("got time %v want %v", got, now)
	}

	// No tracer set, the span is a no-op.
	_, span := AddSpan(ctx, "test")
	span.End()
}
