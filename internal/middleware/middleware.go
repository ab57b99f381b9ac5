// Package middleware provides composable HTTP middleware for the
// meshtrafficd demo API: panic recovery, request-id propagation, access
// logging, and Prometheus instrumentation. Metrics and Logger also surface
// the domain-level outcome of a request — a breaker Check's pass/fail, or
// whether a route resolved to instances (and which subset) — set by the
// handler via SetOutcome,
// so the generic HTTP status is never the only signal an operator has for
// what a /check or /route call actually decided.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Metrics (registered once at startup via promauto)
// ---------------------------------------------------------------------------

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshtraffic",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed by the demo API.",
	}, []string{"route", "method", "status", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meshtraffic",
		Name:      "http_request_duration_seconds",
		Help:      "Histogram of HTTP request latencies.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"route", "method"})
)

// ---------------------------------------------------------------------------
// responseWriter wrapper to capture status code
// ---------------------------------------------------------------------------

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// ---------------------------------------------------------------------------
// Outcome — lets a handler attach the breaker/router decision it made to
// the request, for Logger and Metrics to pick up after it returns.
// ---------------------------------------------------------------------------

type outcomeKey struct{}

// SetOutcome records a domain-level decision (e.g. "pass", "fail",
// "routed", "no-instances") on r's context so the wrapping Logger and
// Metrics middleware can report it alongside the HTTP status. A handler
// that never calls SetOutcome leaves the outcome as "n/a".
func SetOutcome(r *http.Request, outcome string) {
	*r = *r.WithContext(context.WithValue(r.Context(), outcomeKey{}, outcome))
}

func outcomeFrom(r *http.Request) string {
	if v, ok := r.Context().Value(outcomeKey{}).(string); ok && v != "" {
		return v
	}
	return "n/a"
}

// ---------------------------------------------------------------------------
// Recovery — catches panics so one bad request can't crash the server
// ---------------------------------------------------------------------------

func Recovery(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorw("recovered from panic",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ---------------------------------------------------------------------------
// RequestID — injects/forwards a unique request ID
// ---------------------------------------------------------------------------

const HeaderRequestID = "X-Request-ID"

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		r.Header.Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Logger — structured access log
// ---------------------------------------------------------------------------

func Logger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			log.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", r.Header.Get(HeaderRequestID),
				"remote_addr", r.RemoteAddr,
				"outcome", outcomeFrom(r),
			)
		})
	}
}

// ---------------------------------------------------------------------------
// Metrics — Prometheus instrumentation
// ---------------------------------------------------------------------------

func Metrics(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			timer := prometheus.NewTimer(requestDuration.WithLabelValues(route, r.Method))
			defer func() {
				timer.ObserveDuration()
				requestsTotal.WithLabelValues(route, r.Method, fmt.Sprintf("%d", sw.status), outcomeFrom(r)).Inc()
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

// Chain applies middlewares in order (first listed = outermost).
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
