// Package metrics exposes Prometheus counters for document operations and the HTTP API.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shipline"

type Recorder struct {
	Registry *prometheus.Registry

	ops       *prometheus.CounterVec
	opLatency *prometheus.HistogramVec
	shipments *prometheus.CounterVec
	emails    prometheus.Counter
	requests  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		Registry: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_operations_total",
			Help:      "Document read-modify-write operations by name and result.",
		}, []string{"op", "result"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_operation_seconds",
			Help:      "Latency of document operations including load and save.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		shipments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipments_created_total",
			Help:      "Shipments created by type.",
		}, []string{"type"}),
		emails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Simulated task file emails sent.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(r.ops, r.opLatency, r.shipments, r.emails, r.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveOp records one document operation started at start.
func (r *Recorder) ObserveOp(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops.WithLabelValues(op, result).Inc()
	r.opLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *Recorder) ShipmentCreated(shipmentType string) {
	if r == nil {
		return
	}
	r.shipments.WithLabelValues(shipmentType).Inc()
}

func (r *Recorder) EmailsSent(n int) {
	if r == nil {
		return
	}
	r.emails.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Middleware counts requests by chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)
		route := req.URL.Path
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		r.requests.WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
