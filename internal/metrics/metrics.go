// Package metrics provides Prometheus instrumentation for the settlement platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecosphere",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AttestationSubmissionsTotal counts oracle submissions by outcome.
	AttestationSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "attestation_submissions_total",
			Help:      "Total oracle attestation submissions by outcome.",
		},
		[]string{"outcome"},
	)

	// ConsensusRoundsTotal counts finished consensus rounds by result.
	ConsensusRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "consensus_rounds_total",
			Help:      "Total consensus rounds by terminal status.",
		},
		[]string{"status"},
	)

	// TriggersTotal counts trigger evaluations by outcome.
	TriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "triggers_total",
			Help:      "Total trigger evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	// PayoutLegsTotal counts payout legs by source and terminal status.
	PayoutLegsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "payout_legs_total",
			Help:      "Total payout transaction legs by source and status.",
		},
		[]string{"source", "status"},
	)

	// PayoutRetriesTotal counts payout execution retries.
	PayoutRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "payout_retries_total",
			Help:      "Total payout execution retries scheduled.",
		},
	)

	// CessionRequestsTotal counts cession requests raised.
	CessionRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "cession_requests_total",
			Help:      "Total reinsurance cession requests raised.",
		},
	)

	// CessionSettlementsTotal counts cession requests settled by outcome.
	CessionSettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "cession_settlements_total",
			Help:      "Total cession requests settled, by outcome.",
		},
		[]string{"outcome"},
	)

	// PoolAvailableLiquidity tracks available liquidity per pool.
	PoolAvailableLiquidity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ecosphere",
			Name:      "pool_available_liquidity",
			Help:      "Available liquidity per risk pool.",
		},
		[]string{"pool"},
	)

	// PoolReservedLiquidity tracks reserved liquidity per pool.
	PoolReservedLiquidity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ecosphere",
			Name:      "pool_reserved_liquidity",
			Help:      "Reserved liquidity per risk pool.",
		},
		[]string{"pool"},
	)

	// PoolInvariantViolationsTotal counts liquidity invariant violations found
	// by the reconciliation sweep. Any non-zero value is a logic bug.
	PoolInvariantViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "pool_invariant_violations_total",
			Help:      "Liquidity invariant violations detected by reconciliation.",
		},
	)

	// LedgerPublishesTotal counts ledger publisher calls by channel and result.
	LedgerPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosphere",
			Name:      "ledger_publishes_total",
			Help:      "Total ledger publish attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecosphere",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecosphere", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecosphere", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecosphere", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecosphere", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AttestationSubmissionsTotal,
		ConsensusRoundsTotal,
		TriggersTotal,
		PayoutLegsTotal,
		PayoutRetriesTotal,
		CessionRequestsTotal,
		CessionSettlementsTotal,
		PoolAvailableLiquidity,
		PoolReservedLiquidity,
		PoolInvariantViolationsTotal,
		LedgerPublishesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// Middleware records request counts and latency for each route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusLabel(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// CollectRuntime starts a loop that samples runtime and DB pool stats.
// db may be nil when running with in-memory stores.
func CollectRuntime(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
			if db != nil {
				stats := db.Stats()
				DBOpenConnections.Set(float64(stats.OpenConnections))
				DBIdleConnections.Set(float64(stats.Idle))
				DBInUseConnections.Set(float64(stats.InUse))
			}
		}
	}
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
