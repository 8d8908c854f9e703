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

package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/staterail/staterail/pkg/errors"
	"github.com/staterail/staterail/pkg/workflow"
)

// Handler executes one automated step kind. Handlers are stateless and make
// no persistent mutations; the executor owns all state updates and event
// appends. Manual steps have no handler: they are driven entirely by
// CompleteManualStep.
type Handler interface {
	Execute(ctx context.Context, step workflow.Step) error
}

// maxDelaySeconds bounds a delay step to one day. Beyond that the
// float-to-duration conversion would overflow and fire immediately.
const maxDelaySeconds = 24 * 60 * 60

// DelayHandler sleeps for the step's configured number of seconds.
type DelayHandler struct{}

// Execute sleeps cooperatively: context cancellation interrupts the delay.
func (DelayHandler) Execute(ctx context.Context, step workflow.Step) error {
	secs := step.Config.DelaySeconds()
	if secs < 0 {
		return &errors.ValidationError{
			Field:   "seconds",
			Message: fmt.Sprintf("delay step %q has negative duration", step.Name),
		}
	}
	if secs > maxDelaySeconds {
		return &errors.ValidationError{
			Field:   "seconds",
			Message: fmt.Sprintf("delay step %q exceeds the maximum of %d seconds", step.Name, maxDelaySeconds),
		}
	}
	if secs == 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return &errors.StepExecutionError{
			Step:    step.Name,
			Message: "delay interrupted",
			Cause:   ctx.Err(),
		}
	case <-timer.C:
		return nil
	}
}

// HTTPHandler issues the step's outbound HTTP request and fails on any
// non-2xx response.
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler creates an HTTP step handler using the given client.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHandler{client: client}
}

// Execute performs the configured request. The URL is required; the method
// defaults to GET.
func (h *HTTPHandler) Execute(ctx context.Context, step workflow.Step) error {
	if step.Config.URL == "" {
		return &errors.ValidationError{
			Field:   "url",
			Message: fmt.Sprintf("http step %q has no url", step.Name),
		}
	}

	method := strings.ToUpper(step.Config.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, step.Config.URL, nil)
	if err != nil {
		return &errors.ValidationError{
			Field:   "url",
			Message: fmt.Sprintf("http step %q has invalid request: %v", step.Name, err),
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &errors.StepExecutionError{
			Step:    step.Name,
			Message: "request failed",
			Cause:   err,
		}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errors.StepExecutionError{
			Step:       step.Name,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected response status %d", resp.StatusCode),
		}
	}

	return nil
}
