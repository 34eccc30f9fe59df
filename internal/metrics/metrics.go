// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan tick outcomes.
const (
	OutcomeMarked      = "marked"
	OutcomeDuplicate   = "duplicate"
	OutcomeNoMatch     = "no_match"
	OutcomeNoDetection = "no_detection"
	OutcomeUnknown     = "unknown_student"
	OutcomeNoSubject   = "unknown_subject"
	OutcomeDiscarded   = "discarded"
	OutcomeError       = "error"
)

var (
	ScanTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "scan_ticks_total",
		Help:      "Scan ticks by outcome.",
	}, []string{"outcome"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "scan_tick_seconds",
		Help:      "Time spent in one detect+match+record cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "match_distance",
		Help:      "Distance of accepted matches.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 10),
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "scan_sessions_active",
		Help:      "Scanning sessions currently running.",
	})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "events_consumed_total",
		Help:      "Queue events handled by the worker.",
	}, []string{"type"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)
