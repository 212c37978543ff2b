package metrics

import (
	"bytes"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "tracker"

// Metrics holds the application collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	workPackageSaves *prometheus.CounterVec
	watcherChanges   *prometheus.CounterVec
	layoutChanges    *prometheus.CounterVec
	tokenOperations  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		workPackageSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "work_packages",
			Name:      "saves_total",
			Help:      "Work package create and update attempts by outcome.",
		}, []string{"operation", "result"}),
		watcherChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchers",
			Name:      "changes_total",
			Help:      "Watcher add and remove requests, split by whether anything changed.",
		}, []string{"action", "changed"}),
		layoutChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "my_page",
			Name:      "layout_changes_total",
			Help:      "Dashboard layout operations.",
		}, []string{"action"}),
		tokenOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "operations_total",
			Help:      "Access key resets and generations.",
		}, []string{"kind", "action"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by recipient reason.",
		}, []string{"reason"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.workPackageSaves,
		m.watcherChanges,
		m.layoutChanges,
		m.tokenOperations,
		m.notifications,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request count, duration and concurrency per route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordWorkPackageSave counts a create or update by result (saved, invalid, stale)
func (m *Metrics) RecordWorkPackageSave(operation, result string) {
	m.workPackageSaves.WithLabelValues(operation, result).Inc()
}

// RecordWatcherChange counts a watcher add or remove
func (m *Metrics) RecordWatcherChange(action string, changed bool) {
	m.watcherChanges.WithLabelValues(action, strconv.FormatBool(changed)).Inc()
}

// RecordLayoutChange counts a dashboard layout operation
func (m *Metrics) RecordLayoutChange(action string) {
	m.layoutChanges.WithLabelValues(action).Inc()
}

// RecordTokenOperation counts an access key reset or generation
func (m *Metrics) RecordTokenOperation(kind, action string) {
	m.tokenOperations.WithLabelValues(kind, action).Inc()
}

// RecordNotification counts a delivered notification
func (m *Metrics) RecordNotification(reason string) {
	m.notifications.WithLabelValues(reason).Inc()
}

// Snapshot renders the registry in the text exposition format
func (m *Metrics) Snapshot() ([]byte, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteSnapshot writes the text exposition to path
func (m *Metrics) WriteSnapshot(path string) error {
	data, err := m.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
