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

// Package journal is the single point through which state transitions record
// their event. Keeping all appends behind this facade makes the causal
// ordering of the event log enforceable by inspecting a handful of call
// sites.
package journal

import (
	"context"

	"github.com/staterail/staterail/internal/store"
	"github.com/staterail/staterail/pkg/workflow"
)

// Journal appends immutable events to a run's history.
type Journal struct {
	store *store.Store
}

// New creates a journal backed by the given store.
func New(st *store.Store) *Journal {
	return &Journal{store: st}
}

// RunStarted records that a run began.
func (j *Journal) RunStarted(ctx context.Context, runID, message string) (*workflow.Event, error) {
	return j.store.AppendEvent(ctx, runID, "", workflow.EventRunStarted, message)
}

// RunSucceeded records that a run reached its terminal succeeded state.
func (j *Journal) RunSucceeded(ctx context.Context, runID, message string) (*workflow.Event, error) {
	return j.store.AppendEvent(ctx, runID, "", workflow.EventRunSucceeded, message)
}

// RunFailed records that a run reached its terminal failed state.
func (j *Journal) RunFailed(ctx context.Context, runID, message string) (*workflow.Event, error) {
	return j.store.AppendEvent(ctx, runID, "", workflow.EventRunFailed, message)
}

// StepStarted records that a step run began (or, for manual steps, that it
// is awaiting completion).
func (j *Journal) StepStarted(ctx context.Context, runID, stepRunID, message string) (*workflow.Event, error) {
	return j.store.AppendEvent(ctx, runID, stepRunID, workflow.EventStepStarted, message)
}

// StepSucceeded records that a step run succeeded.
func (j *Journal) StepSucceeded(ctx context.Context, runID, stepRunID, message string) (*workflow.Event, error) {
	return j.store.AppendEvent(ctx, runID, stepRunID, workflow.EventStepSucceeded, message)
}

// StepFailed records that a step run failed.
func (j *Journal) StepFailed(ctx context.Context, runID, stepRunID, message string) (*workflow.Event, error) {
	return j.store.AppendEvent(ctx, runID, stepRunID, workflow.EventStepFailed, message)
}
