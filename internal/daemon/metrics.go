// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/staterail/staterail/pkg/workflow"
)

var (
	// runsStarted tracks total runs picked up by the executor
	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staterail_runs_started_total",
			Help: "Total runs started",
		},
	)

	// runsCompleted tracks total runs reaching a terminal status
	runsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staterail_runs_completed_total",
			Help: "Total runs completed by terminal status",
		},
		[]string{"status"},
	)

	// runDuration tracks run wall time from start to terminal status
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staterail_run_duration_seconds",
			Help:    "Run duration from start to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"status"},
	)

	// stepsCompleted tracks total step runs reaching a terminal status
	stepsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staterail_steps_completed_total",
			Help: "Total step runs completed by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	// activeRuns tracks runs currently held by an executor goroutine
	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "staterail_active_runs",
			Help: "Number of runs currently being executed",
		},
	)
)

// PrometheusMetrics records execution metrics into the default Prometheus
// registry, exposed on /metrics.
type PrometheusMetrics struct{}

// NewPrometheusMetrics creates the metrics collector.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// RecordRunStart increments the started-runs counter.
func (m *PrometheusMetrics) RecordRunStart(ctx context.Context, runID, workflowID string) {
	runsStarted.Inc()
}

// RecordRunComplete records a run reaching a terminal status.
func (m *PrometheusMetrics) RecordRunComplete(ctx context.Context, runID, workflowID string, status workflow.Status, duration time.Duration) {
	runsCompleted.WithLabelValues(string(status)).Inc()
	runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordStepComplete records a step run reaching a terminal status.
func (m *PrometheusMetrics) RecordStepComplete(ctx context.Context, workflowID, stepName string, kind workflow.StepKind, status workflow.Status, duration time.Duration) {
	stepsCompleted.WithLabelValues(string(kind), string(status)).Inc()
}

// IncrementActiveRuns bumps the active-runs gauge.
func (m *PrometheusMetrics) IncrementActiveRuns() {
	activeRuns.Inc()
}

// DecrementActiveRuns lowers the active-runs gauge.
func (m *PrometheusMetrics) DecrementActiveRuns() {
	activeRuns.Dec()
}
