// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "questgen"

var (
	// ─── Worker pool ────────────────────────────────────────────────────────────

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Jobs finished by a worker, labelled by question type and resulting status.",
	}, []string{"question_type", "status"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Tasks reaching a terminal state, labelled by outcome.",
	}, []string{"question_type", "outcome"})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "job_retries_total",
		Help:      "Whole-job retries scheduled.",
	}, []string{"question_type"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "dead_letters_total",
		Help:      "Jobs parked after exhausting retries or hitting a fatal error.",
	}, []string{"question_type"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "active",
		Help:      "Workers currently processing a job.",
	})

	// ─── Pipeline stages ────────────────────────────────────────────────────────

	Duplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dedup",
		Name:      "duplicates_total",
		Help:      "Drafts dropped as near-duplicates, labelled by the stage that decided.",
	}, []string{"stage"})

	ValidationScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "validator",
		Name:      "score",
		Help:      "Validation scores of drafts.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "embedding_cache_total",
		Help:      "Embedding cache lookups, labelled hit or miss.",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Messages waiting in the job queue, visible or not.",
	})

	// ─── Dependencies ───────────────────────────────────────────────────────────

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Latency of language-model calls.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation", "status"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests labelled by route and status code.",
	}, []string{"route", "status"})
)

// ObserveLLM records the latency of one language-model call started at
// start.
func ObserveLLM(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// CountRequest records one served HTTP request.
func CountRequest(route string, status int) {
	httpRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
