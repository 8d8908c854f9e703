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

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/staterail/staterail/internal/daemon/api"
	"github.com/staterail/staterail/pkg/workflow"
)

func TestClientHealth(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := New(server.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
}

func TestClientVersion(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version":    "1.0.0",
			"commit":     "abc123",
			"build_date": "2025-01-01",
		})
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := New(server.URL)
	version, err := client.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version.Version != "1.0.0" || version.Commit != "abc123" {
		t.Errorf("unexpected version response: %+v", version)
	}
}

func TestClientWorkflows(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/workflows":
			var req api.CreateWorkflowRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding create request: %v", err)
			}
			if req.Name != "deploy" {
				t.Errorf("create name = %q, want deploy", req.Name)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(workflow.Workflow{ID: "wf-1", Name: req.Name})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/workflows":
			json.NewEncoder(w).Encode(map[string]any{
				"workflows": []workflow.Workflow{{ID: "wf-1", Name: "deploy"}},
				"count":     1,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/workflows/wf-1/runs":
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.StatusPending})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx := context.Background()
	client := New(server.URL)

	created, err := client.CreateWorkflow(ctx, api.CreateWorkflowRequest{Name: "deploy"})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if created.ID != "wf-1" {
		t.Errorf("created ID = %q, want wf-1", created.ID)
	}

	wfs, err := client.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(wfs) != 1 || wfs[0].Name != "deploy" {
		t.Errorf("unexpected workflow list: %+v", wfs)
	}

	run, err := client.StartRun(ctx, "wf-1")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.ID != "run-1" || run.Status != workflow.StatusPending {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestClientErrorBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "workflow not found: nope"})
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := New(server.URL)
	_, err := client.GetWorkflow(context.Background(), "nope")
	if err == nil {
		t.Fatal("GetWorkflow should fail")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "workflow not found") {
		t.Errorf("error = %q, want status and server message", err)
	}
}

func TestClientWatchRun(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs/run-1/watch" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, status := range []workflow.Status{workflow.StatusRunning, workflow.StatusSucceeded} {
			data, _ := json.Marshal(workflow.RunDetail{
				Run: workflow.Run{ID: "run-1", Status: status},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := New(server.URL)
	updates, err := client.WatchRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("WatchRun failed: %v", err)
	}

	var statuses []workflow.Status
	for detail := range updates {
		statuses = append(statuses, detail.Run.Status)
	}
	if len(statuses) != 2 || statuses[0] != workflow.StatusRunning || statuses[1] != workflow.StatusSucceeded {
		t.Errorf("unexpected snapshot statuses: %v", statuses)
	}
}

func TestClientWatchRunNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "workflow run not found: nope"})
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := New(server.URL)
	_, err := client.WatchRun(context.Background(), "nope")
	if err == nil {
		t.Fatal("WatchRun should fail for an unknown run")
	}
}

func TestWaitForReady(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := New(server.URL)
	if err := client.WaitForReady(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("WaitForReady failed: %v", err)
	}
	if calls < 3 {
		t.Errorf("expected at least 3 health calls, got %d", calls)
	}
}
