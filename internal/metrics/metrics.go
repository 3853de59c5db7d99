// Package metrics exposes Prometheus collectors for the monitoring service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scansTotal        *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
	findingsTotal     prometheus.Counter
	alertsTotal       *prometheus.CounterVec
	liveSubscribers   prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "darkmon_scans_total",
				Help: "Scan jobs completed, labeled by source and result.",
			},
			[]string{"source", "result"},
		)
		scanDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "darkmon_scan_duration_seconds",
				Help:    "Wall time per completed scan job.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"source"},
		)
		findingsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "darkmon_findings_total",
				Help: "Total keyword findings produced by the match engine.",
			},
		)
		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "darkmon_alerts_total",
				Help: "Alert deliveries, labeled by terminal status.",
			},
			[]string{"status"},
		)
		liveSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "darkmon_live_subscribers",
				Help: "Currently connected live-feed subscribers.",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "darkmon_http_requests_total",
				Help: "HTTP requests, labeled by method and status code.",
			},
			[]string{"method", "code"},
		)
		httpDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "darkmon_http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)
	})
}

// ObserveScan records one completed scan job.
func ObserveScan(source, result string, dur time.Duration) {
	if scansTotal == nil {
		return
	}
	scansTotal.WithLabelValues(source, result).Inc()
	scanDuration.WithLabelValues(source).Observe(dur.Seconds())
}

// IncFindings counts new findings.
func IncFindings(n int) {
	if findingsTotal == nil || n <= 0 {
		return
	}
	findingsTotal.Add(float64(n))
}

// ObserveAlert records one terminal alert delivery outcome.
func ObserveAlert(status string) {
	if alertsTotal == nil {
		return
	}
	alertsTotal.WithLabelValues(status).Inc()
}

// SetLiveSubscribers records the current subscriber count.
func SetLiveSubscribers(n int) {
	if liveSubscribers == nil {
		return
	}
	liveSubscribers.Set(float64(n))
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP handlers with request counters and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
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

// Hijack passes through to the wrapped writer so WebSocket upgrades keep
// working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
