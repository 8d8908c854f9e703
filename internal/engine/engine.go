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

// Package engine exposes the staterail core to its transport layer: queries
// over workflows and runs, mutations that start and resume work, and the
// run-updated subscription stream.
package engine

import (
	"context"
	"log/slog"

	"github.com/staterail/staterail/internal/broker"
	"github.com/staterail/staterail/internal/executor"
	"github.com/staterail/staterail/internal/journal"
	"github.com/staterail/staterail/internal/log"
	"github.com/staterail/staterail/internal/store"
	"github.com/staterail/staterail/pkg/workflow"
)

// Engine composes the store, journal, broker and executor behind the
// operations of the external interface.
type Engine struct {
	store    *store.Store
	journal  *journal.Journal
	broker   *broker.Broker
	executor *executor.Executor
	logger   *slog.Logger
}

// New creates an engine over the given components.
func New(st *store.Store, j *journal.Journal, b *broker.Broker, ex *executor.Executor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		journal:  j,
		broker:   b,
		executor: ex,
		logger:   log.WithComponent(logger, "engine"),
	}
}

// Executor returns the engine's executor, exposed for drain handling.
func (e *Engine) Executor() *executor.Executor {
	return e.executor
}

// Workflows lists all workflows with their steps, newest first.
func (e *Engine) Workflows(ctx context.Context) ([]*workflow.Workflow, error) {
	return e.store.ListWorkflows(ctx)
}

// Workflow returns a workflow with its steps.
func (e *Engine) Workflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	return e.store.GetWorkflow(ctx, id)
}

// Runs lists the runs of a workflow, newest first.
func (e *Engine) Runs(ctx context.Context, workflowID string) ([]*workflow.Run, error) {
	return e.store.ListRuns(ctx, workflowID)
}

// Run returns a run with its step runs and events.
func (e *Engine) Run(ctx context.Context, id string) (*workflow.RunDetail, error) {
	return e.store.GetRunDetail(ctx, id)
}

// CreateWorkflow persists a new workflow definition.
func (e *Engine) CreateWorkflow(ctx context.Context, name, description string, steps []workflow.Step) (*workflow.Workflow, error) {
	wf, err := e.store.CreateWorkflow(ctx, name, description, steps)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Workflow created", slog.String(log.WorkflowKey, wf.ID), slog.String("name", wf.Name))
	return wf, nil
}

// UpdateWorkflow replaces a workflow's step sequence and optionally its name
// and description. Fails if the workflow is unknown.
func (e *Engine) UpdateWorkflow(ctx context.Context, id string, name, description *string, steps []workflow.Step) (*workflow.Workflow, error) {
	wf, err := e.store.UpdateWorkflow(ctx, id, name, description, steps)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Workflow updated", slog.String(log.WorkflowKey, wf.ID))
	return wf, nil
}

// StartRun creates a pending run with its step runs, journals the initial
// run_started event, signals subscribers, and enqueues the run. The returned
// run may still be pending: enqueueing is asynchronous.
func (e *Engine) StartRun(ctx context.Context, workflowID string) (*workflow.Run, error) {
	run, err := e.store.CreateRun(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if _, err := e.journal.RunStarted(ctx, run.ID, "Run enqueued"); err != nil {
		return nil, err
	}
	e.broker.Publish(broker.RunTopic(run.ID))
	e.executor.Enqueue(run.ID)

	e.logger.Info("Run enqueued",
		slog.String(log.RunIDKey, run.ID),
		slog.String(log.WorkflowKey, workflowID))
	return run, nil
}

// CompleteManualStep resolves a manual step. Fails if the step run is
// unknown; completing an already-terminal step run is idempotent.
func (e *Engine) CompleteManualStep(ctx context.Context, stepRunID string, success bool) (*workflow.StepRun, error) {
	return e.executor.CompleteManualStep(ctx, stepRunID, success)
}

// RunUpdated streams snapshots of a run: one on connect, then one per change
// signal. Each snapshot reflects the latest persisted state, not a delta. The
// stream ends when ctx is done. Fails immediately if the run is unknown.
func (e *Engine) RunUpdated(ctx context.Context, runID string) (<-chan *workflow.RunDetail, error) {
	// Subscribe before the initial snapshot so no transition between the
	// two is missed.
	sub := e.broker.Subscribe(broker.RunTopic(runID))

	initial, err := e.store.GetRunDetail(ctx, runID)
	if err != nil {
		sub.Cancel()
		return nil, err
	}

	out := make(chan *workflow.RunDetail)
	go func() {
		defer close(out)
		defer sub.Cancel()

		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Signals():
				if !ok {
					return
				}
				detail, err := e.store.GetRunDetail(ctx, runID)
				if err != nil {
					e.logger.Warn("Failed to load run snapshot for subscriber",
						slog.String(log.RunIDKey, runID), log.Error(err))
					continue
				}
				select {
				case out <- detail:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
