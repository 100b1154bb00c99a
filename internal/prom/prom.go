// Package prom holds the Prometheus metrics of the scheduler and helpers for recording them.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the namespace of every metric this module exports.
const Namespace = "rcq"

var (
	// PendingJobs is the number of jobs waiting for dispatch.
	PendingJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "pending_jobs",
		Help:      "Jobs waiting to be dispatched.",
	})
	// InFlightJobs is the number of jobs handed to the builder and not yet finished.
	InFlightJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "in_flight_jobs",
		Help:      "Jobs being built.",
	})
	// DispatchedJobs counts jobs handed to the builder, by platform.
	DispatchedJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "dispatched_jobs_total",
		Help:      "Jobs handed to the builder.",
	}, []string{"platform"})
	// FinishedJobs counts jobs leaving the scheduler, by final state.
	FinishedJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "finished_jobs_total",
		Help:      "Jobs that reached a final state.",
	}, []string{"state"})
	// JobDuration observes how long builds took, by final state.
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Time from dispatch to completion.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"state"})
	// Escalations counts escalations that raised a job's urgency.
	Escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "escalations_total",
		Help:      "Escalations applied to pending jobs.",
	})
	// Fences counts fenced requests by outcome: detected, failed or timed_out.
	Fences = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "requests",
		Name:      "fences_total",
		Help:      "Fenced requests by outcome.",
	}, []string{"outcome"})
	// Responses counts responses to asset requests by status.
	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "requests",
		Name:      "responses_total",
		Help:      "Asset request responses by status.",
	}, []string{"status"})
	// CatalogDuration observes catalog calls, by operation.
	CatalogDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "catalog",
		Name:      "duration_seconds",
		Help:      "Time spent in catalog calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	// CatalogErrors counts failed catalog calls, by operation.
	CatalogErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "catalog",
		Name:      "errors_total",
		Help:      "Failed catalog calls.",
	}, []string{"op"})
	// Connections is the number of live client connections, by platform.
	Connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "connections",
		Name:      "clients",
		Help:      "Live client connections.",
	}, []string{"platform"})
)

func init() {
	prometheus.MustRegister(
		PendingJobs,
		InFlightJobs,
		DispatchedJobs,
		FinishedJobs,
		JobDuration,
		Escalations,
		Fences,
		Responses,
		CatalogDuration,
		CatalogErrors,
		Connections,
	)
}

// Time observes the time since it was called, once the returned function runs. Use it as
// `defer prom.Time(h)()`.
func Time(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}

// ErrCount increments c if *err is non-nil. Use it as `defer prom.ErrCount(c, &err)`.
func ErrCount(c prometheus.Counter, err *error) {
	if *err != nil {
		c.Inc()
	}
}
