// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/settlement-engine/internal/model"
)

var (
	// EventsTotal counts engine events, partitioned by pair and type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_engine_events_total",
		Help: "Total number of engine events emitted",
	}, []string{"pair", "type"})

	// CancellationsTotal counts cancelled orders by reason.
	CancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_order_cancellations_total",
		Help: "Orders removed without execution, by reason",
	}, []string{"pair", "reason"})

	// TradedVolume tracks cumulative executed size per pair and side.
	TradedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_traded_volume_total",
		Help: "Cumulative executed position size",
	}, []string{"pair", "side"})

	// FeesCollected tracks entry and exit fees charged.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_fees_collected_total",
		Help: "Cumulative trading fees charged",
	}, []string{"pair", "kind"})

	// OpenInterest reports open interest per pair and side after the last trade.
	OpenInterest = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmx_open_interest",
		Help: "Open interest per pair and side",
	}, []string{"pair", "side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Sink records engine events as metrics. The zero value is ready to use.
type Sink struct{}

func (Sink) Emit(_ context.Context, ev model.Event) {
	pair := ev.Pair.String()
	EventsTotal.WithLabelValues(pair, string(ev.Type)).Inc()

	switch ev.Type {
	case model.EventOrderCancelled:
		CancellationsTotal.WithLabelValues(pair, string(ev.CancelReason)).Inc()
		return
	case model.EventOrderPlaced:
		return
	}

	side := "short"
	if ev.IsLong {
		side = "long"
	}
	if f := ev.SizeDelta.Abs().InexactFloat64(); f > 0 {
		TradedVolume.WithLabelValues(pair, side).Add(f)
	}
	if f := ev.EntryFee.InexactFloat64(); f > 0 {
		FeesCollected.WithLabelValues(pair, "entry").Add(f)
	}
	if f := ev.ExitFee.InexactFloat64(); f > 0 {
		FeesCollected.WithLabelValues(pair, "exit").Add(f)
	}

	// The event carries open interest before the trade; adjust this side.
	long, short := ev.LongOpenInterest, ev.ShortOpenInterest
	delta := ev.NewSize.Sub(ev.OriginalSize)
	if ev.IsLong {
		long = long.Add(delta)
	} else {
		short = short.Add(delta)
	}
	OpenInterest.WithLabelValues(pair, "long").Set(long.InexactFloat64())
	OpenInterest.WithLabelValues(pair, "short").Set(short.InexactFloat64())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
