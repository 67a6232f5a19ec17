package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_connection_transitions_total",
		Help: "Connection lifecycle transitions by operation and outcome.",
	}, []string{"op", "outcome"})

	versionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_version_conflicts_total",
		Help: "Optimistic version conflicts seen while mutating user records.",
	}, []string{"op"})

	matchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_matches_total",
		Help: "Mutual-like matches raised.",
	})

	sweepRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_sweeper_likers_repaired_total",
		Help: "Likers entries repaired by the consistency sweeper, by kind (stale, missing).",
	}, []string{"kind"})

	sweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_sweeper_requests_expired_total",
		Help: "Pending requests expired by the background sweep.",
	})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_reconcile_total",
		Help: "Transaction reconcile calls by outcome.",
	}, []string{"outcome"})

	fanoutFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_fanout_failures_total",
		Help: "Best-effort delivery failures by channel.",
	}, []string{"channel"})
)

// outcome labels a transition result for metrics.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errorCode(err); code != "" {
		return code
	}
	return "error"
}
