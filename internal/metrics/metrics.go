// Package metrics declares the prometheus instrumentation surfaces the
// job queue, scheduler, rate limiter, release selector, and announce
// listeners record into, following the teacher's promauto declaration
// style throughout its own internal/metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobQueueDepth tracks the number of jobs sitting Pending per type,
	// sampled on each scheduler claim tick (spec.md §4.3).
	JobQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atlasarr_job_queue_depth",
		Help: "Number of Pending jobs by job type",
	}, []string{"type"})

	// JobsClaimedTotal counts every job handed to a worker.
	JobsClaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_jobs_claimed_total",
		Help: "Total number of jobs claimed by a worker",
	}, []string{"type"})

	// JobsCompletedTotal counts terminal outcomes by type and result.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_jobs_completed_total",
		Help: "Total number of jobs reaching a terminal state",
	}, []string{"type", "result"}) // result: completed, failed, cancelled

	// SchedulerTaskRunsTotal counts every scheduler tick by task id and
	// outcome, mirroring the teacher's task-run accounting.
	SchedulerTaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_scheduler_task_runs_total",
		Help: "Total number of scheduler task executions",
	}, []string{"task", "outcome"}) // outcome: ok, error, panic

	// RateLimiterWaitDepth is the number of callers currently parked in an
	// upstream's fair-wait queue (spec.md §4.1).
	RateLimiterWaitDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atlasarr_rate_limiter_wait_depth",
		Help: "Number of callers currently waiting for a rate limiter token",
	}, []string{"upstream"})

	// RateLimiterTokensTotal counts tokens handed out, split by whether the
	// caller waited or was served immediately.
	RateLimiterTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_rate_limiter_tokens_total",
		Help: "Total number of rate limiter tokens granted",
	}, []string{"upstream", "waited"})

	// SelectorOutcomesTotal counts each SEARCH's result shape (spec.md §4.4).
	SelectorOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_selector_outcomes_total",
		Help: "Total number of release-selection outcomes by kind",
	}, []string{"outcome"}) // outcome: winner, quality_unavailable, no_candidates

	// AnnounceMatchesTotal counts matches found by each announce side
	// channel (spec.md §4.7).
	AnnounceMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_announce_matches_total",
		Help: "Total number of announce-channel matches applied to a waiting request",
	}, []string{"channel"}) // channel: rss, irc

	// BusDroppedTotal counts in-memory bus backpressure drops, mirroring
	// the teacher's internal/metrics bus-drop accounting.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasarr_bus_dropped_total",
		Help: "Total number of in-memory bus message drops by topic",
	}, []string{"topic"})
)

// RecordJobClaimed increments the claimed counter for jobType.
func RecordJobClaimed(jobType string) {
	JobsClaimedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobCompleted increments the completed counter for jobType/result.
func RecordJobCompleted(jobType, result string) {
	JobsCompletedTotal.WithLabelValues(jobType, result).Inc()
}

// RecordSchedulerTaskRun increments the scheduler task-run counter.
func RecordSchedulerTaskRun(task, outcome string) {
	SchedulerTaskRunsTotal.WithLabelValues(task, outcome).Inc()
}

// RecordRateLimiterToken increments the token-grant counter for upstream,
// noting whether the caller had to wait for it.
func RecordRateLimiterToken(upstream string, waited bool) {
	w := "false"
	if waited {
		w = "true"
	}
	RateLimiterTokensTotal.WithLabelValues(upstream, w).Inc()
}

// RecordSelectorOutcome increments the selector-outcome counter.
func RecordSelectorOutcome(outcome string) {
	SelectorOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordAnnounceMatch increments the announce-match counter for channel
// ("rss" or "irc").
func RecordAnnounceMatch(channel string) {
	AnnounceMatchesTotal.WithLabelValues(channel).Inc()
}

// RecordBusDrop increments the bus-drop counter for topic.
func RecordBusDrop(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic).Inc()
}
