// Package metrics holds the Prometheus collectors of the resolution engine.
// Collectors are registered on the default registry via promauto.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragforge"

// Mention resolution outcomes.
const (
	OutcomeMerged  = "merged"
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
)

// Embedding outcomes.
const (
	EmbeddingEmbedded = "embedded"
	EmbeddingSkipped  = "skipped"
	EmbeddingFailed   = "failed"
)

var (
	// Labels: kind, outcome (merged|created|skipped).
	mentionsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolution",
			Name:      "mentions_total",
			Help:      "Entity mentions handled by resolution runs, by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// Labels: phase (exact|semantic).
	tagMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolution",
			Name:      "tag_merges_total",
			Help:      "Tags folded into a surviving tag, by merge phase.",
		},
		[]string{"phase"},
	)

	// Labels: operation (match_entities|group_tags), status (success|error).
	oracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Semantic-matching oracle calls.",
		},
		[]string{"operation", "status"},
	)

	oracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Duration of semantic-matching oracle calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// Labels: target (entity|tag), outcome (embedded|skipped|failed).
	embeddings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "records_total",
			Help:      "Records considered by embedding maintenance, by outcome.",
		},
		[]string{"target", "outcome"},
	)

	// Labels: mode (lexical|semantic|hybrid).
	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Registry search latency by mode.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	searchDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches that fell back to lexical-only because embedding failed.",
		},
	)

	// Labels: from, to.
	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle state transitions.",
		},
		[]string{"from", "to"},
	)
)

// RecordMentions adds n mentions of kind with the given outcome.
func RecordMentions(kind, outcome string, n int) {
	if n > 0 {
		mentionsResolved.WithLabelValues(kind, outcome).Add(float64(n))
	}
}

// RecordTagMerges adds n merged tags for a phase.
func RecordTagMerges(phase string, n int) {
	if n > 0 {
		tagMerges.WithLabelValues(phase).Add(float64(n))
	}
}

// RecordOracleCall records one oracle call.
func RecordOracleCall(operation string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	oracleCalls.WithLabelValues(operation, status).Inc()
	oracleDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordEmbeddings adds n records for a target with the given outcome.
func RecordEmbeddings(target, outcome string, n int) {
	if n > 0 {
		embeddings.WithLabelValues(target, outcome).Add(float64(n))
	}
}

// ObserveSearch records the latency of one search.
func ObserveSearch(mode string, elapsed time.Duration) {
	searchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordSearchDegraded counts a lexical-only fallback.
func RecordSearchDegraded() {
	searchDegraded.Inc()
}

// RecordTransition counts one lifecycle transition.
func RecordTransition(from, to string) {
	lifecycleTransitions.WithLabelValues(from, to).Inc()
}
