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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/staterail/staterail/internal/daemon/httputil"
	"github.com/staterail/staterail/internal/engine"
	"github.com/staterail/staterail/pkg/workflow"
)

// WorkflowsHandler handles workflow definition API requests.
type WorkflowsHandler struct {
	engine *engine.Engine
}

// NewWorkflowsHandler creates a new workflows handler.
func NewWorkflowsHandler(e *engine.Engine) *WorkflowsHandler {
	return &WorkflowsHandler{engine: e}
}

// RegisterRoutes registers workflow API routes on the router.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workflows", h.handleCreate)
	mux.HandleFunc("GET /v1/workflows", h.handleList)
	mux.HandleFunc("GET /v1/workflows/{id}", h.handleGet)
	mux.HandleFunc("PUT /v1/workflows/{id}", h.handleUpdate)
	mux.HandleFunc("POST /v1/workflows/{id}/runs", h.handleStartRun)
	mux.HandleFunc("GET /v1/workflows/{id}/runs", h.handleListRuns)
}

// StepSpec is the wire form of one step in a create or update request.
type StepSpec struct {
	ID     string              `json:"id,omitempty"`
	Name   string              `json:"name"`
	Kind   workflow.StepKind   `json:"kind"`
	Config workflow.StepConfig `json:"config"`
	Order  int                 `json:"order"`
}

// CreateWorkflowRequest is the request body for creating a workflow.
type CreateWorkflowRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Steps       []StepSpec `json:"steps"`
}

// UpdateWorkflowRequest is the request body for updating a workflow. Name and
// description are optional; the step list always replaces the previous one.
type UpdateWorkflowRequest struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Steps       []StepSpec `json:"steps"`
}

func specsToSteps(specs []StepSpec) []workflow.Step {
	steps := make([]workflow.Step, len(specs))
	for i, s := range specs {
		steps[i] = workflow.Step{
			ID:     s.ID,
			Name:   s.Name,
			Kind:   s.Kind,
			Config: s.Config,
			Order:  s.Order,
		}
	}
	return steps
}

// handleCreate handles POST /v1/workflows.
func (h *WorkflowsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	wf, err := h.engine.CreateWorkflow(r.Context(), req.Name, req.Description, specsToSteps(req.Steps))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, wf)
}

// handleList handles GET /v1/workflows.
func (h *WorkflowsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.engine.Workflows(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflows": wfs,
		"count":     len(wfs),
	})
}

// handleGet handles GET /v1/workflows/{id}.
func (h *WorkflowsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "workflow ID required")
		return
	}

	wf, err := h.engine.Workflow(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, wf)
}

// handleUpdate handles PUT /v1/workflows/{id}.
func (h *WorkflowsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "workflow ID required")
		return
	}

	var req UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	wf, err := h.engine.UpdateWorkflow(r.Context(), id, req.Name, req.Description, specsToSteps(req.Steps))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, wf)
}

// handleStartRun handles POST /v1/workflows/{id}/runs.
func (h *WorkflowsHandler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "workflow ID required")
		return
	}

	run, err := h.engine.StartRun(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, run)
}

// handleListRuns handles GET /v1/workflows/{id}/runs.
func (h *WorkflowsHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "workflow ID required")
		return
	}

	runs, err := h.engine.Runs(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}
