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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staterail/staterail/pkg/errors"
	"github.com/staterail/staterail/pkg/workflow"
)

func floatPtr(v float64) *float64 { return &v }

func TestDelayHandler(t *testing.T) {
	h := DelayHandler{}
	ctx := context.Background()

	t.Run("zero delay returns immediately", func(t *testing.T) {
		err := h.Execute(ctx, workflow.Step{
			Name: "wait", Kind: workflow.StepKindDelay,
			Config: workflow.StepConfig{Seconds: floatPtr(0)},
		})
		assert.NoError(t, err)
	})

	t.Run("negative delay is rejected", func(t *testing.T) {
		err := h.Execute(ctx, workflow.Step{
			Name: "wait", Kind: workflow.StepKindDelay,
			Config: workflow.StepConfig{Seconds: floatPtr(-1)},
		})
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("excessive delay is rejected", func(t *testing.T) {
		// Past the one-day bound the float-to-duration conversion would
		// overflow and the timer would fire immediately.
		err := h.Execute(ctx, workflow.Step{
			Name: "wait", Kind: workflow.StepKindDelay,
			Config: workflow.StepConfig{Seconds: floatPtr(1e18)},
		})
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("fractional delay sleeps", func(t *testing.T) {
		start := time.Now()
		err := h.Execute(ctx, workflow.Step{
			Name: "wait", Kind: workflow.StepKindDelay,
			Config: workflow.StepConfig{Seconds: floatPtr(0.05)},
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancellation interrupts", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := h.Execute(cctx, workflow.Step{
			Name: "wait", Kind: workflow.StepKindDelay,
			Config: workflow.StepConfig{Seconds: floatPtr(10)},
		})
		var stepErr *errors.StepExecutionError
		require.ErrorAs(t, err, &stepErr)
		assert.Contains(t, stepErr.Message, "interrupted")
	})
}

func TestHTTPHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("2xx succeeds", func(t *testing.T) {
		var gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		h := NewHTTPHandler(srv.Client())
		err := h.Execute(ctx, workflow.Step{
			Name: "call", Kind: workflow.StepKindHTTP,
			Config: workflow.StepConfig{URL: srv.URL, Method: "post"},
		})
		require.NoError(t, err)
		// Lowercase methods are normalized.
		assert.Equal(t, http.MethodPost, gotMethod)
	})

	t.Run("method defaults to GET", func(t *testing.T) {
		var gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
		}))
		defer srv.Close()

		h := NewHTTPHandler(srv.Client())
		err := h.Execute(ctx, workflow.Step{
			Name: "call", Kind: workflow.StepKindHTTP,
			Config: workflow.StepConfig{URL: srv.URL},
		})
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, gotMethod)
	})

	t.Run("non-2xx fails with status code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		h := NewHTTPHandler(srv.Client())
		err := h.Execute(ctx, workflow.Step{
			Name: "call", Kind: workflow.StepKindHTTP,
			Config: workflow.StepConfig{URL: srv.URL},
		})
		var stepErr *errors.StepExecutionError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, http.StatusServiceUnavailable, stepErr.StatusCode)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("missing url is rejected", func(t *testing.T) {
		h := NewHTTPHandler(nil)
		err := h.Execute(ctx, workflow.Step{Name: "call", Kind: workflow.StepKindHTTP})
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("connection failure surfaces cause", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // refuse connections

		h := NewHTTPHandler(nil)
		err := h.Execute(ctx, workflow.Step{
			Name: "call", Kind: workflow.StepKindHTTP,
			Config: workflow.StepConfig{URL: srv.URL},
		})
		var stepErr *errors.StepExecutionError
		require.ErrorAs(t, err, &stepErr)
		assert.NotNil(t, stepErr.Cause)
	})
}
