/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for authorization sessions.
//
// Metrics are registered on a caller-supplied Registerer so tests and
// embedders can keep them off the global default registry.
//
// Metric naming follows Prometheus conventions:
//   - rolegate_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt results used as the result label.
const (
	ResultSuccess            = "success"
	ResultInvalidCredentials = "invalid_credentials"
	ResultAccountExists      = "account_exists"
	ResultInvalidInput       = "invalid_input"
	ResultBusy               = "busy"
	ResultCanceled           = "canceled"
	ResultTimeout            = "timeout"
	ResultError              = "error"
)

// Metrics holds the session collectors. A nil *Metrics records nothing.
type Metrics struct {
	// AttemptsTotal counts login and register attempts by terminal result.
	AttemptsTotal *prometheus.CounterVec

	// VerifyDurationSeconds is a histogram of identity store round trips.
	VerifyDurationSeconds *prometheus.HistogramVec

	// Authenticated is 1 while the session holds an identity.
	Authenticated prometheus.Gauge
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_auth_attempts_total",
				Help: "Total number of login and register attempts by operation and result.",
			},
			[]string{"operation", "result"},
		),
		VerifyDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolegate_verify_duration_seconds",
				Help:    "Duration of identity store verification in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		Authenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolegate_session_authenticated",
				Help: "Whether the session currently holds an authenticated identity.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.AttemptsTotal, m.VerifyDurationSeconds, m.Authenticated)
	}
	return m
}

// RecordAttempt records a finished login or register attempt.
// A zero duration skips the histogram, used for attempts that never
// reached the identity store.
func (m *Metrics) RecordAttempt(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(operation, result).Inc()
	if duration > 0 {
		m.VerifyDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// SetAuthenticated records the session's authentication state.
func (m *Metrics) SetAuthenticated(authenticated bool) {
	if m == nil {
		return
	}
	if authenticated {
		m.Authenticated.Set(1)
		return
	}
	m.Authenticated.Set(0)
}
