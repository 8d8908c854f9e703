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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staterail/staterail/internal/broker"
	"github.com/staterail/staterail/internal/engine"
	"github.com/staterail/staterail/internal/executor"
	"github.com/staterail/staterail/internal/journal"
	"github.com/staterail/staterail/internal/store"
	"github.com/staterail/staterail/pkg/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	s, err := store.New(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	j := journal.New(s)
	b := broker.New()
	ex := executor.New(s, j, b)
	t.Cleanup(func() {
		_ = ex.WaitForDrain(context.Background(), 5*time.Second)
	})
	eng := engine.New(s, j, b, ex, nil)

	router := NewRouter(RouterConfig{Version: "test"}, nil)
	NewWorkflowsHandler(eng).RegisterRoutes(router.Mux())
	NewRunsHandler(eng).RegisterRoutes(router.Mux())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func sampleCreateRequest() CreateWorkflowRequest {
	z := 0.0
	return CreateWorkflowRequest{
		Name: "deploy",
		Steps: []StepSpec{
			{Name: "pause", Kind: workflow.StepKindDelay, Config: workflow.StepConfig{Seconds: &z}, Order: 0},
		},
	}
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(srv.URL + "/v1/version")
	require.NoError(t, err)
	version := decode[map[string]string](t, resp)
	assert.Equal(t, "test", version["version"])
}

func TestWorkflowEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/workflows", sampleCreateRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[workflow.Workflow](t, resp)
	require.NotEmpty(t, created.ID)
	require.Len(t, created.Steps, 1)

	resp, err := http.Get(srv.URL + "/v1/workflows/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[workflow.Workflow](t, resp)
	assert.Equal(t, "deploy", got.Name)

	resp, err = http.Get(srv.URL + "/v1/workflows")
	require.NoError(t, err)
	list := decode[struct {
		Workflows []workflow.Workflow `json:"workflows"`
		Count     int                 `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, list.Count)

	// Update replaces the step sequence.
	update := UpdateWorkflowRequest{
		Steps: []StepSpec{
			{Name: "approve", Kind: workflow.StepKindManual, Order: 0},
		},
	}
	data, err := json.Marshal(update)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/workflows/"+created.ID, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[workflow.Workflow](t, resp)
	require.Len(t, updated.Steps, 1)
	assert.Equal(t, workflow.StepKindManual, updated.Steps[0].Kind)
}

func TestWorkflowErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// Unknown resources are 404.
	resp, err := http.Get(srv.URL + "/v1/workflows/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Rejected input is 400 with an error payload.
	bad := CreateWorkflowRequest{
		Name:  "bad",
		Steps: []StepSpec{{Name: "x", Kind: "teleport"}},
	}
	resp = postJSON(t, srv.URL+"/v1/workflows", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "teleport")

	// Malformed JSON is 400.
	resp, err = http.Post(srv.URL+"/v1/workflows", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRunEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/workflows", sampleCreateRequest())
	created := decode[workflow.Workflow](t, resp)

	resp = postJSON(t, srv.URL+"/v1/workflows/"+created.ID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[workflow.Run](t, resp)
	require.NotEmpty(t, run.ID)

	// Poll the run until it finishes.
	var detail workflow.RunDetail
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/v1/runs/" + run.ID)
		require.NoError(t, err)
		detail = decode[workflow.RunDetail](t, resp)
		if detail.Run.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, workflow.StatusSucceeded, detail.Run.Status)
	assert.NotEmpty(t, detail.Events)

	resp, err := http.Get(srv.URL + "/v1/workflows/" + created.ID + "/runs")
	require.NoError(t, err)
	runList := decode[struct {
		Runs  []workflow.Run `json:"runs"`
		Count int            `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, runList.Count)

	resp, err = http.Get(srv.URL + "/v1/runs/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCompleteManualStepEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	ctx := context.Background()

	wf, err := eng.CreateWorkflow(ctx, "approval", "", []workflow.Step{
		{Name: "approve", Kind: workflow.StepKindManual, Order: 0},
	})
	require.NoError(t, err)
	run, err := eng.StartRun(ctx, wf.ID)
	require.NoError(t, err)

	// Wait for the run to park at the manual step: completion is only
	// accepted once the gate's step_started event is journaled.
	var stepRunID string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		detail, err := eng.Run(ctx, run.ID)
		require.NoError(t, err)
		for _, ev := range detail.Events {
			if ev.Type == workflow.EventStepStarted && ev.StepRunID != "" {
				stepRunID = ev.StepRunID
			}
		}
		if stepRunID != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, stepRunID)

	resp := postJSON(t, srv.URL+"/v1/step-runs/"+stepRunID+"/complete", CompleteStepRequest{Success: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sr := decode[workflow.StepRun](t, resp)
	assert.Equal(t, workflow.StatusSucceeded, sr.Status)

	resp = postJSON(t, srv.URL+"/v1/step-runs/nope/complete", CompleteStepRequest{Success: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWatchStreamsSnapshots(t *testing.T) {
	srv, eng := newTestServer(t)
	ctx := context.Background()

	z := 0.0
	wf, err := eng.CreateWorkflow(ctx, "stream", "", []workflow.Step{
		{Name: "pause", Kind: workflow.StepKindDelay, Config: workflow.StepConfig{Seconds: &z}, Order: 0},
	})
	require.NoError(t, err)
	run, err := eng.StartRun(ctx, wf.ID)
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/watch", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Read SSE frames until a terminal snapshot appears.
	sawTerminal := false
	buf := make([]byte, 64*1024)
	var acc []byte
	for !sawTerminal {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			for _, line := range bytes.Split(acc, []byte("\n")) {
				if !bytes.HasPrefix(line, []byte("data: ")) {
					continue
				}
				var detail workflow.RunDetail
				if json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &detail) != nil {
					continue
				}
				if detail.Run.Status.Terminal() {
					sawTerminal = true
				}
			}
		}
		if err != nil {
			break
		}
	}
	require.True(t, sawTerminal, "never saw a terminal snapshot on the stream")

	cancel()

	resp2, err := http.Get(srv.URL + "/v1/runs/nope/watch")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	resp2.Body.Close()
}
