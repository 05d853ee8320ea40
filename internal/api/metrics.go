package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uvoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uvote_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	uvoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uvote_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	uvoteCredentialsExchanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uvote_credentials_exchanged_total",
		Help: "Total authorizations exchanged for ballot credentials.",
	})

	uvoteBallotsCast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uvote_ballots_cast_total",
		Help: "Total ballots appended to the ballot ledger.",
	})

	uvoteChainVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uvote_chain_verifications_total",
		Help: "Total public chain verification runs by result.",
	}, []string{"result"})

	uvoteHaltedScopes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uvote_halted_scopes",
		Help: "Number of ballot scopes currently quarantined by the integrity monitor.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		uvoteRequestsTotal.WithLabelValues(method, path, status).Inc()
		uvoteRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordExchange counts a successful credential exchange.
func RecordExchange() {
	uvoteCredentialsExchanged.Inc()
}

// RecordBallotCast counts a successfully recorded ballot.
func RecordBallotCast() {
	uvoteBallotsCast.Inc()
}

// RecordChainVerification counts a public chain verification by result.
func RecordChainVerification(valid bool) {
	if valid {
		uvoteChainVerifications.WithLabelValues("valid").Inc()
	} else {
		uvoteChainVerifications.WithLabelValues("invalid").Inc()
	}
}

// RecordHaltedScopes sets the quarantined-scope gauge. Wired into the
// integrity monitor's sweep.
func RecordHaltedScopes(n int) {
	uvoteHaltedScopes.Set(float64(n))
}
