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
)

// RunsHandler handles run and step-run API requests.
type RunsHandler struct {
	engine *engine.Engine
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(e *engine.Engine) *RunsHandler {
	return &RunsHandler{engine: e}
}

// RegisterRoutes registers run API routes on the router.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/runs/{id}/watch", h.handleWatch)
	mux.HandleFunc("POST /v1/step-runs/{id}/complete", h.handleCompleteStep)
}

// CompleteStepRequest is the request body for completing a manual step.
type CompleteStepRequest struct {
	Success bool `json:"success"`
}

// handleGet handles GET /v1/runs/{id}.
func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "run ID required")
		return
	}

	detail, err := h.engine.Run(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, detail)
}

// handleWatch handles GET /v1/runs/{id}/watch. Streams run snapshots via SSE:
// one on connect, then one per state change. The stream stays open until the
// client disconnects; terminal runs still emit their final snapshot first.
func (h *RunsHandler) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "run ID required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, err := h.engine.RunUpdated(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case detail, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(detail)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleCompleteStep handles POST /v1/step-runs/{id}/complete.
func (h *RunsHandler) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "step run ID required")
		return
	}

	var req CompleteStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	sr, err := h.engine.CompleteManualStep(r.Context(), id, req.Success)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, sr)
}
