// Package telemetry provides application-level observability for the Cadogy backend.
//
// All metrics are registered against the default Prometheus registry and exposed on the
// side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<CADOGY_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Credential login outcomes and verification tokens issued
//   - API key validations on the programmatic API
//   - Email deliveries, token ledger entries, checkout sessions
//   - CMS cache effectiveness
//   - Database connection pool gauges by state (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code. The path label holds
// c.FullPath() (e.g. /api/dashboard/tickets/:id) to keep cardinality bounded.
//
// Example PromQL queries:
//   - Error rate (%): sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authentication metrics.
//
// AuthAttemptsTotal is labelled by {method, outcome}: method is "credentials" or "oidc",
// outcome is the authentication result kind (ok, not_found, unverified, invalid_credentials,
// no_password, internal). A spike of invalid_credentials from few IPs indicates credential
// stuffing.
//
// VerificationTokensIssuedTotal is labelled by {purpose} (email_verification, password_reset).
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of login attempts, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	VerificationTokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_tokens_issued_total",
			Help: "Total number of verification tokens issued, by purpose.",
		},
		[]string{"purpose"},
	)

	APIKeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_key_validations_total",
			Help: "Total number of API key checks on API-key-protected routes, by tier and result.",
		},
		[]string{"tier", "result"},
	)
)

// Collaborator metrics.
//
// EmailsSentTotal is labelled by {template, result} where result is "sent", "queued" or "failed".
// TokenLedgerEntriesTotal is labelled by {kind} (purchase, usage, adjustment, refund).
// CheckoutSessionsTotal is labelled by {result} (created, failed, fulfilled).
// CMSCacheRequestsTotal is labelled by {result} (hit, miss).
var (
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total number of outbound emails, by template and result.",
		},
		[]string{"template", "result"},
	)

	TokenLedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_ledger_entries_total",
			Help: "Total number of token ledger entries written, by kind.",
		},
		[]string{"kind"},
	)

	CheckoutSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Total number of payment checkout sessions, by result.",
		},
		[]string{"result"},
	)

	CMSCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_requests_total",
			Help: "Total number of CMS cache lookups, by result.",
		},
		[]string{"result"},
	)
)

// APIKeyExpiryNotificationsSentTotal is incremented once per expiry warning email delivered
// by the api key expiry notifier job.
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of API key expiry warning emails successfully sent.",
	},
)

// ExpiredVerificationTokensPurgedTotal counts rows removed by the token cleanup job.
var ExpiredVerificationTokensPurgedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "verification_tokens_purged_total",
		Help: "Total number of expired verification tokens deleted by the cleanup job.",
	},
)

// DBOpenConnections tracks the open connections held by the sql.DB pool, split by state
// ("in_use", "idle"). Sampled by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool, by state.",
	},
	[]string{"state"},
)

const dbStatsInterval = 30 * time.Second

// StartDBStatsCollector samples sql.DB pool statistics immediately and then every 30
// seconds. The goroutine exits once the pool is closed during shutdown.
func StartDBStatsCollector(db *sql.DB) {
	sampleDBStats(db)
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			sampleDBStats(db)
		}
	}()
}

func sampleDBStats(db *sql.DB) {
	stats := db.Stats()
	DBOpenConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	DBOpenConnections.WithLabelValues("idle").Set(float64(stats.Idle))
}
