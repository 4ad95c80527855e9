package metrics

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	joins         prometheus.Counter
	closes        *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
	reservations  prometheus.Counter
	leaveRequests prometheus.Counter
}

// New registers the service instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sousou_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sousou_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		joins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sousou_batch_joins_total",
			Help: "Successful batch joins.",
		}),
		closes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sousou_batch_closes_total",
			Help: "Batch closes by payout assignment mode.",
		}, []string{"mode"}),
		redemptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sousou_code_redemptions_total",
			Help: "One-time code redemptions by scope and outcome.",
		}, []string{"scope", "outcome"}),
		reservations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sousou_payout_reservations_total",
			Help: "Payout month reservations set.",
		}),
		leaveRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sousou_leave_requests_total",
			Help: "Leave requests filed.",
		}),
	}
}

func (m *Metrics) RecordJoin() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) RecordClose(mode string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(strings.TrimSpace(mode)).Inc()
}

func (m *Metrics) RecordRedemption(scope string, ok bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if ok {
		outcome = "redeemed"
	}
	m.redemptions.WithLabelValues(strings.TrimSpace(scope), outcome).Inc()
}

func (m *Metrics) RecordReservation() {
	if m == nil {
		return
	}
	m.reservations.Inc()
}

func (m *Metrics) RecordLeaveRequest() {
	if m == nil {
		return
	}
	m.leaveRequests.Inc()
}

// GinMiddleware records request counts and latency.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, statusLabel(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
