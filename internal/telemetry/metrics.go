package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	DraftsCreated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_drafts_created_total", Help: "Drafts staged for confirmation"})
	DraftsClaimed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_drafts_claimed_total", Help: "Drafts consumed by a confirmation"})
	ConfirmConflicts = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_confirm_conflicts_total", Help: "Confirmations rejected because order state changed since drafting"})
	JobsInline       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_jobs_inline_total", Help: "Bulk jobs executed inline"})
	JobsQueued       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_jobs_queued_total", Help: "Bulk jobs handed to the scheduler"})
	OrdersUpdated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_orders_updated_total", Help: "Orders mutated by bulk jobs"})
	OrdersFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_orders_failed_total", Help: "Per-order failures during bulk jobs"})
	RollbacksRun     = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_rollbacks_total", Help: "Rollback requests executed"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_rate_limit_rejects_total", Help: "Confirmations rejected by the rate limiter"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ops_jobs_running", Help: "Bulk jobs currently executing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			DraftsCreated,
			DraftsClaimed,
			ConfirmConflicts,
			JobsInline,
			JobsQueued,
			OrdersUpdated,
			OrdersFailed,
			RollbacksRun,
			RateLimitRejects,
			JobsRunning,
		)
	})
	return promhttp.Handler()
}
