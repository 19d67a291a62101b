package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rschio/ledger/internal/web"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func middlewareWeb(log *slog.Logger, tracer trace.Tracer, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "web")
		defer span.End()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		v := web.Values{
			TraceID:   span.SpanContext().TraceID().String(),
			RequestID: requestID,
			Tracer:    tracer,
			Now:       time.Now().UTC(),
		}
		ctx = web.SetValues(ctx, &v)
		r = r.WithContext(ctx)

		rec := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(&rec, r)

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
			attribute.Int("http.status_code", rec.status),
		)
		log.InfoContext(ctx, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"since", time.Since(v.Now).String(),
		)
	})
}
