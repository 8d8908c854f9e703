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

// Package client is the typed HTTP client for the stateraild API, used by the
// staterail CLI.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/staterail/staterail/internal/daemon/api"
	"github.com/staterail/staterail/pkg/workflow"
)

// Client is a client for the stateraild API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the daemon at baseURL (e.g. "http://127.0.0.1:8420").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		// No overall timeout: watch streams stay open indefinitely.
		c.httpClient = &http.Client{}
	}
	return c
}

// HealthResponse is the response from /v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response from /v1/version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

type workflowListResponse struct {
	Workflows []*workflow.Workflow `json:"workflows"`
	Count     int                  `json:"count"`
}

type runListResponse struct {
	Runs  []*workflow.Run `json:"runs"`
	Count int             `json:"count"`
}

// Health returns the daemon health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/v1/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version returns the daemon version information.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var out VersionResponse
	if err := c.getJSON(ctx, "/v1/version", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWorkflow creates a new workflow definition.
func (c *Client) CreateWorkflow(ctx context.Context, req api.CreateWorkflowRequest) (*workflow.Workflow, error) {
	var out workflow.Workflow
	if err := c.postJSON(ctx, "/v1/workflows", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWorkflow replaces a workflow's step sequence.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, req api.UpdateWorkflowRequest) (*workflow.Workflow, error) {
	var out workflow.Workflow
	if err := c.doJSON(ctx, http.MethodPut, "/v1/workflows/"+id, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkflows returns all workflows, newest first.
func (c *Client) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	var out workflowListResponse
	if err := c.getJSON(ctx, "/v1/workflows", &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// GetWorkflow returns one workflow with its steps.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var out workflow.Workflow
	if err := c.getJSON(ctx, "/v1/workflows/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartRun starts a new run of the workflow.
func (c *Client) StartRun(ctx context.Context, workflowID string) (*workflow.Run, error) {
	var out workflow.Run
	if err := c.postJSON(ctx, "/v1/workflows/"+workflowID+"/runs", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns the runs of a workflow, newest first.
func (c *Client) ListRuns(ctx context.Context, workflowID string) ([]*workflow.Run, error) {
	var out runListResponse
	if err := c.getJSON(ctx, "/v1/workflows/"+workflowID+"/runs", &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// GetRun returns a run with its step runs and events.
func (c *Client) GetRun(ctx context.Context, id string) (*workflow.RunDetail, error) {
	var out workflow.RunDetail
	if err := c.getJSON(ctx, "/v1/runs/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteStep resolves a manual step run.
func (c *Client) CompleteStep(ctx context.Context, stepRunID string, success bool) (*workflow.StepRun, error) {
	var out workflow.StepRun
	req := api.CompleteStepRequest{Success: success}
	if err := c.postJSON(ctx, "/v1/step-runs/"+stepRunID+"/complete", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchRun subscribes to a run's snapshot stream. Snapshots arrive on the
// returned channel until ctx is cancelled or the server closes the stream;
// the channel is then closed.
func (c *Client) WatchRun(ctx context.Context, id string) (<-chan *workflow.RunDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+id+"/watch", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("daemon returned error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := make(chan *workflow.RunDetail)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var detail workflow.RunDetail
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &detail); err != nil {
				continue
			}
			select {
			case out <- &detail:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WaitForReady polls the health endpoint until the daemon responds or the
// timeout elapses.
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := c.Health(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon not ready after %v", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
