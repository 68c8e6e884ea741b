package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"margaz-backend/internal/telemetry"
)

const namespace = "margaz"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	verifications *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	forwards      *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with registerer. A nil
// registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "verifications_total",
			Help:      "Policy decisions on incoming telemetry by security mode, result and failure reason.",
		}, []string{"security_mode", "verify_result", "reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "rejections_total",
			Help:      "Refused telemetry reports by class and reason.",
		}, []string{"class", "reason"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forward",
			Name:      "payloads_total",
			Help:      "Downstream relay outcomes.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registerer.MustRegister(m.verifications, m.rejections, m.forwards, m.httpDuration)
	return m
}

// Verified implements telemetry.Recorder.
func (m *Metrics) Verified(mode telemetry.SecurityMode, result telemetry.VerifyResult, reason string) {
	m.verifications.WithLabelValues(string(mode), string(result), reason).Inc()
}

// Rejected implements telemetry.Recorder.
func (m *Metrics) Rejected(class telemetry.Class, reason string) {
	m.rejections.WithLabelValues(class.String(), reason).Inc()
}

// Forwarded implements forward.Recorder.
func (m *Metrics) Forwarded(outcome string) {
	m.forwards.WithLabelValues(outcome).Inc()
}

// GinMiddleware observes request latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

var _ telemetry.Recorder = (*Metrics)(nil)
