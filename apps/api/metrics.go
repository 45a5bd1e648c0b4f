package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// apiMetrics owns a private registry so tests can build several Apps without
// duplicate registration panics. All methods are safe on a nil receiver.
type apiMetrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	reportsCreated  *prometheus.CounterVec
	photoUploads    *prometheus.CounterVec
	exports         *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	rateLimitHits   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

func newAPIMetrics() *apiMetrics {
	m := &apiMetrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ecomed",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template, method and status.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method", "status"}),
		reportsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecomed",
			Subsystem: "reports",
			Name:      "created_total",
			Help:      "Reports stored, labeled by intake endpoint and whether a photo was attached.",
		}, []string{"source", "photo"}),
		photoUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecomed",
			Subsystem: "photos",
			Name:      "uploads_total",
			Help:      "Photo uploads, labeled by result.",
		}, []string{"result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecomed",
			Subsystem: "admin",
			Name:      "exports_total",
			Help:      "Report exports generated, labeled by format.",
		}, []string{"format"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecomed",
			Subsystem: "reports",
			Name:      "cache_lookups_total",
			Help:      "Report list cache lookups, labeled by result (hit, miss, error).",
		}, []string{"result"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecomed",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP limiter, labeled by scope.",
		}, []string{"scope"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecomed",
			Subsystem: "mailer",
			Name:      "notifications_total",
			Help:      "New-report notification emails, labeled by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.reportsCreated,
		m.photoUploads,
		m.exports,
		m.cacheLookups,
		m.rateLimitHits,
		m.notifications,
	)
	return m
}

func (m *apiMetrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (m *apiMetrics) reportCreated(source string, withPhoto bool) {
	if m == nil {
		return
	}
	m.reportsCreated.WithLabelValues(source, strconv.FormatBool(withPhoto)).Inc()
}

func (m *apiMetrics) photoUpload(result string) {
	if m == nil {
		return
	}
	m.photoUploads.WithLabelValues(result).Inc()
}

func (m *apiMetrics) exportGenerated(format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format).Inc()
}

func (m *apiMetrics) cacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *apiMetrics) rateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(scope).Inc()
}

func (m *apiMetrics) notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
