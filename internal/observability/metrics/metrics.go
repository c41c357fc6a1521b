package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ohehr"

// PortalMetrics exposes counters/histograms for the API and workers.
type PortalMetrics struct {
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	logins          *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	documentUploads *prometheus.CounterVec
	signalingPeers  prometheus.Gauge
}

func NewPortalMetrics(reg prometheus.Registerer) *PortalMetrics {
	m := &PortalMetrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Sign-in attempts by outcome",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and status",
		}, []string{"channel", "status"}),
		documentUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "uploads_total",
			Help:      "Document uploads by type",
		}, []string{"document_type"}),
		signalingPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "signaling_peers",
			Help:      "Connected video signalling peers",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.httpRequests, m.httpLatency, m.logins, m.notifications, m.documentUploads, m.signalingPeers)
	return m
}

// ObserveLogin implements auth.LoginObserver.
func (m *PortalMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *PortalMetrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *PortalMetrics) ObserveDocumentUpload(documentType string) {
	if m == nil {
		return
	}
	m.documentUploads.WithLabelValues(documentType).Inc()
}

// PeerConnected and PeerDisconnected track the signalling hub.
func (m *PortalMetrics) PeerConnected() {
	if m == nil {
		return
	}
	m.signalingPeers.Inc()
}

func (m *PortalMetrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.signalingPeers.Dec()
}

// Middleware records request counts and latency keyed by chi route pattern,
// so path parameters do not explode label cardinality.
func (m *PortalMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
