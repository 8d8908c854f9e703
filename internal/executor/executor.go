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

// Package executor advances runs through their steps. Each run is driven by
// at most one scheduling task at a time, tracked in an in-memory active set;
// the engine is designed for a single process instance, so no cross-process
// lock is needed. A scheduling pass is re-entrant by design: it scans the
// step runs and resumes wherever work remains, which is how manual steps
// suspend a run durably without any in-memory continuation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/staterail/staterail/internal/broker"
	"github.com/staterail/staterail/internal/journal"
	"github.com/staterail/staterail/internal/log"
	"github.com/staterail/staterail/internal/store"
	"github.com/staterail/staterail/pkg/errors"
	"github.com/staterail/staterail/pkg/workflow"
)

// MetricsCollector defines the interface for recording execution metrics.
type MetricsCollector interface {
	RecordRunStart(ctx context.Context, runID, workflowID string)
	RecordRunComplete(ctx context.Context, runID, workflowID string, status workflow.Status, duration time.Duration)
	RecordStepComplete(ctx context.Context, workflowID, stepName string, kind workflow.StepKind, status workflow.Status, duration time.Duration)
	IncrementActiveRuns()
	DecrementActiveRuns()
}

// Executor schedules runs. All state lives in the store; the executor holds
// only the active set.
type Executor struct {
	store   *store.Store
	journal *journal.Journal
	broker  *broker.Broker

	handlers   map[workflow.StepKind]Handler
	httpClient *http.Client
	logger     *slog.Logger
	metrics    MetricsCollector
	tracer     trace.Tracer

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// Option customises an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithHTTPClient sets the client used by the http step handler.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.httpClient = client }
}

// WithHandler overrides the handler for a step kind.
func WithHandler(kind workflow.StepKind, h Handler) Option {
	return func(e *Executor) { e.handlers[kind] = h }
}

// New creates an executor over the given store, journal and broker.
func New(st *store.Store, j *journal.Journal, b *broker.Broker, opts ...Option) *Executor {
	e := &Executor{
		store:    st,
		journal:  j,
		broker:   b,
		handlers: make(map[workflow.StepKind]Handler),
		logger:   slog.Default(),
		tracer:   otel.Tracer("staterail/executor"),
		active:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, ok := e.handlers[workflow.StepKindDelay]; !ok {
		e.handlers[workflow.StepKindDelay] = DelayHandler{}
	}
	if _, ok := e.handlers[workflow.StepKindHTTP]; !ok {
		e.handlers[workflow.StepKindHTTP] = NewHTTPHandler(e.httpClient)
	}
	return e
}

// Enqueue starts a scheduling task for the run unless one is already in
// flight. It is idempotent: re-enqueueing an active run is a no-op and never
// causes duplicate progression. The returned bool reports whether a task was
// launched.
func (e *Executor) Enqueue(runID string) bool {
	e.mu.Lock()
	if _, ok := e.active[runID]; ok {
		e.mu.Unlock()
		return false
	}
	e.active[runID] = struct{}{}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncrementActiveRuns()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.active, runID)
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.DecrementActiveRuns()
			}
		}()
		e.runPass(context.Background(), runID)
	}()
	return true
}

// ActiveRunCount returns the number of runs currently being progressed.
func (e *Executor) ActiveRunCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// WaitForDrain waits for all active scheduling tasks to finish or until the
// timeout is reached.
func (e *Executor) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			remaining := e.ActiveRunCount()
			if remaining > 0 {
				return fmt.Errorf("drain timeout: %d run(s) still active", remaining)
			}
			return nil
		case <-ticker.C:
			if e.ActiveRunCount() == 0 {
				return nil
			}
		}
	}
}

func (e *Executor) publish(runID string) {
	e.broker.Publish(broker.RunTopic(runID))
}

// runPass is one scheduling pass over a run. Store errors are fatal to the
// pass: they are logged unwrapped and the task exits, leaving the run in
// whatever state the last committed transaction captured.
func (e *Executor) runPass(ctx context.Context, runID string) {
	ctx, span := e.tracer.Start(ctx, "run.pass",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if !errors.IsNotFound(err) {
			e.logger.Error("Failed to load run", slog.String(log.RunIDKey, runID), log.Error(err))
		}
		return
	}
	if run.Status.Terminal() {
		return
	}

	wf, err := e.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		if !errors.IsNotFound(err) {
			e.logger.Error("Failed to load workflow", slog.String(log.RunIDKey, runID), log.Error(err))
		}
		return
	}

	logger := log.WithRunContext(e.logger, runID, wf.ID)

	if run.Status == workflow.StatusPending {
		if _, _, err := e.store.SetRunStatus(ctx, runID, workflow.StatusRunning); err != nil {
			logger.Error("Failed to mark run running", log.Error(err))
			return
		}
		// StartRun already journals run_started ("Run enqueued"); append one
		// only for runs enqueued without the boundary, so every run has
		// exactly one run_started as its first event.
		started, err := e.hasRunStarted(ctx, runID)
		if err != nil {
			logger.Error("Failed to inspect event log", log.Error(err))
			return
		}
		if !started {
			if _, err := e.journal.RunStarted(ctx, runID, "Run started"); err != nil {
				logger.Error("Failed to journal run start", log.Error(err))
				return
			}
		}
		e.publish(runID)
		if e.metrics != nil {
			e.metrics.RecordRunStart(ctx, runID, wf.ID)
		}
		logger.Info("Run started")
	}

	stepRuns, err := e.store.ListStepRuns(ctx, runID)
	if err != nil {
		logger.Error("Failed to list step runs", log.Error(err))
		return
	}
	byStep := make(map[string]workflow.StepRun, len(stepRuns))
	for _, sr := range stepRuns {
		byStep[sr.WorkflowStepID] = sr
	}

	for _, step := range wf.Steps {
		sr, ok := byStep[step.ID]
		if !ok {
			logger.Warn("No step run for step, skipping", slog.String("step_id", step.ID))
			continue
		}

		switch sr.Status {
		case workflow.StatusSucceeded:
			continue
		case workflow.StatusFailed:
			// Normally unreachable: a step failure already terminates the
			// run in the same pass.
			e.failRun(ctx, logger, run, "Run already failed")
			return
		}

		if step.Kind == workflow.StepKindManual {
			if sr.Status == workflow.StatusPending {
				msg := fmt.Sprintf("Manual step %q awaiting completion", step.Name)
				if _, err := e.journal.StepStarted(ctx, runID, sr.ID, msg); err != nil {
					logger.Error("Failed to journal manual step", log.Error(err))
					return
				}
				e.publish(runID)
				logger.Info("Run suspended awaiting manual step", slog.String(log.StepRunIDKey, sr.ID))
			}
			// The run resumes when CompleteManualStep re-enqueues it.
			return
		}

		if err := e.runAutomatedStep(ctx, logger, run, step, sr); err != nil {
			return
		}

		// Re-read: a step failure terminates the run.
		cur, err := e.store.GetRun(ctx, runID)
		if err != nil {
			logger.Error("Failed to reload run", log.Error(err))
			return
		}
		if cur.Status == workflow.StatusFailed {
			return
		}
	}

	_, changed, err := e.store.SetRunStatus(ctx, runID, workflow.StatusSucceeded)
	if err != nil {
		logger.Error("Failed to mark run succeeded", log.Error(err))
		return
	}
	if !changed {
		return
	}
	if _, err := e.journal.RunSucceeded(ctx, runID, "Run succeeded"); err != nil {
		logger.Error("Failed to journal run success", log.Error(err))
		return
	}
	e.publish(runID)
	if e.metrics != nil {
		e.metrics.RecordRunComplete(ctx, runID, wf.ID, workflow.StatusSucceeded, sinceStart(run))
	}
	logger.Info("Run succeeded")
}

// runAutomatedStep applies the automated-step protocol: mark running, invoke
// the handler, then reify the outcome into durable events. A non-nil return
// means a store failure aborted the pass.
func (e *Executor) runAutomatedStep(ctx context.Context, logger *slog.Logger, run *workflow.Run, step workflow.Step, sr workflow.StepRun) error {
	stepLogger := logger.With(slog.String(log.StepRunIDKey, sr.ID), slog.String("step", step.Name))

	if _, _, err := e.store.SetStepRunStatus(ctx, sr.ID, workflow.StatusRunning); err != nil {
		stepLogger.Error("Failed to mark step running", log.Error(err))
		return err
	}
	if _, err := e.journal.StepStarted(ctx, run.ID, sr.ID, fmt.Sprintf("Step %q started", step.Name)); err != nil {
		stepLogger.Error("Failed to journal step start", log.Error(err))
		return err
	}
	e.publish(run.ID)

	stepCtx, span := e.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("step.name", step.Name),
		attribute.String("step.kind", string(step.Kind)),
	))
	started := time.Now()

	var execErr error
	handler, ok := e.handlers[step.Kind]
	if !ok {
		execErr = &errors.ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("no handler for step kind %q", step.Kind),
		}
	} else {
		execErr = handler.Execute(stepCtx, step)
	}
	duration := time.Since(started)
	if execErr != nil {
		span.SetStatus(codes.Error, execErr.Error())
		span.RecordError(execErr)
	}
	span.End()

	if execErr == nil {
		if _, _, err := e.store.SetStepRunStatus(ctx, sr.ID, workflow.StatusSucceeded); err != nil {
			stepLogger.Error("Failed to mark step succeeded", log.Error(err))
			return err
		}
		if _, err := e.journal.StepSucceeded(ctx, run.ID, sr.ID, fmt.Sprintf("Step %q succeeded", step.Name)); err != nil {
			stepLogger.Error("Failed to journal step success", log.Error(err))
			return err
		}
		e.publish(run.ID)
		if e.metrics != nil {
			e.metrics.RecordStepComplete(ctx, run.WorkflowID, step.Name, step.Kind, workflow.StatusSucceeded, duration)
		}
		stepLogger.Info("Step succeeded", slog.Duration("duration", duration))
		return nil
	}

	// Failure: reify into durable step_failed + run_failed events.
	if _, _, err := e.store.SetStepRunStatus(ctx, sr.ID, workflow.StatusFailed); err != nil {
		stepLogger.Error("Failed to mark step failed", log.Error(err))
		return err
	}
	if _, err := e.journal.StepFailed(ctx, run.ID, sr.ID, fmt.Sprintf("Step %q failed: %v", step.Name, execErr)); err != nil {
		stepLogger.Error("Failed to journal step failure", log.Error(err))
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordStepComplete(ctx, run.WorkflowID, step.Name, step.Kind, workflow.StatusFailed, duration)
	}
	if _, _, err := e.store.SetRunStatus(ctx, run.ID, workflow.StatusFailed); err != nil {
		stepLogger.Error("Failed to mark run failed", log.Error(err))
		return err
	}
	if _, err := e.journal.RunFailed(ctx, run.ID, fmt.Sprintf("Run failed: step %q failed", step.Name)); err != nil {
		stepLogger.Error("Failed to journal run failure", log.Error(err))
		return err
	}
	e.publish(run.ID)
	if e.metrics != nil {
		e.metrics.RecordRunComplete(ctx, run.ID, run.WorkflowID, workflow.StatusFailed, sinceStart(run))
	}
	stepLogger.Warn("Step failed", log.Error(execErr))
	return nil
}

func (e *Executor) failRun(ctx context.Context, logger *slog.Logger, run *workflow.Run, message string) {
	_, changed, err := e.store.SetRunStatus(ctx, run.ID, workflow.StatusFailed)
	if err != nil {
		logger.Error("Failed to mark run failed", log.Error(err))
		return
	}
	if !changed {
		return
	}
	if _, err := e.journal.RunFailed(ctx, run.ID, message); err != nil {
		logger.Error("Failed to journal run failure", log.Error(err))
		return
	}
	e.publish(run.ID)
	if e.metrics != nil {
		e.metrics.RecordRunComplete(ctx, run.ID, run.WorkflowID, workflow.StatusFailed, sinceStart(run))
	}
}

// CompleteManualStep resolves a manual step. Completing an already-terminal
// step run returns it unchanged with no additional events; concurrent calls
// are serialized by the store's absorbing-terminal transition, so exactly one
// caller journals the outcome. Only the awaited gate can be completed: a step
// run whose run has already settled is returned unchanged, and one the
// executor has not yet reached is rejected, so the event log never records a
// completion after the run's terminal event or without a preceding start.
func (e *Executor) CompleteManualStep(ctx context.Context, stepRunID string, success bool) (*workflow.StepRun, error) {
	sr, err := e.store.GetStepRun(ctx, stepRunID)
	if err != nil {
		return nil, err
	}
	if sr.Status.Terminal() {
		return sr, nil
	}

	run, err := e.store.GetRun(ctx, sr.WorkflowRunID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return sr, nil
	}

	awaited, err := e.hasStepStarted(ctx, sr.WorkflowRunID, sr.ID)
	if err != nil {
		return nil, err
	}
	if !awaited {
		return nil, &errors.ValidationError{
			Field:   "step_run_id",
			Message: fmt.Sprintf("step run %s is not awaiting completion", sr.ID),
		}
	}

	target := workflow.StatusFailed
	if success {
		target = workflow.StatusSucceeded
	}

	sr, changed, err := e.store.SetStepRunStatus(ctx, stepRunID, target)
	if err != nil {
		return nil, err
	}
	if !changed {
		// A concurrent completion won the transition.
		return sr, nil
	}

	runID := sr.WorkflowRunID
	logger := log.WithStepContext(e.logger, runID, sr.ID)

	if success {
		if _, err := e.journal.StepSucceeded(ctx, runID, sr.ID, "Manual step completed"); err != nil {
			return nil, err
		}
		e.publish(runID)
		logger.Info("Manual step completed")
		e.Enqueue(runID)
		return sr, nil
	}

	if _, err := e.journal.StepFailed(ctx, runID, sr.ID, "Manual step failed"); err != nil {
		return nil, err
	}
	e.publish(runID)

	run, changed, err = e.store.SetRunStatus(ctx, runID, workflow.StatusFailed)
	if err != nil {
		return nil, err
	}
	if changed {
		if _, err := e.journal.RunFailed(ctx, runID, "Run failed by manual step"); err != nil {
			return nil, err
		}
		e.publish(runID)
		if e.metrics != nil {
			e.metrics.RecordRunComplete(ctx, runID, run.WorkflowID, workflow.StatusFailed, sinceStart(run))
		}
	}
	logger.Info("Manual step failed; run failed")
	return sr, nil
}

// hasStepStarted reports whether the step run has a step_started event, i.e.
// the executor reached it and parked the run on it.
func (e *Executor) hasStepStarted(ctx context.Context, runID, stepRunID string) (bool, error) {
	events, err := e.store.ListEvents(ctx, runID)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.Type == workflow.EventStepStarted && ev.StepRunID == stepRunID {
			return true, nil
		}
	}
	return false, nil
}

// hasRunStarted reports whether the run already has a run_started event.
func (e *Executor) hasRunStarted(ctx context.Context, runID string) (bool, error) {
	events, err := e.store.ListEvents(ctx, runID)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.Type == workflow.EventRunStarted {
			return true, nil
		}
	}
	return false, nil
}

func sinceStart(run *workflow.Run) time.Duration {
	if run.StartedAt == nil {
		return 0
	}
	return time.Since(*run.StartedAt)
}
