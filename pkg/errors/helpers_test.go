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

package errors_test

import (
	"fmt"
	"testing"

	staterailerrors "github.com/staterail/staterail/pkg/errors"
)

func TestWrap(t *testing.T) {
	if staterailerrors.Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := staterailerrors.New("boom")
	wrapped := staterailerrors.Wrap(base, "starting run")
	if got, want := wrapped.Error(), "starting run: boom"; got != want {
		t.Errorf("Wrap() = %q, want %q", got, want)
	}
	if !staterailerrors.Is(wrapped, base) {
		t.Error("wrapped error should match the base via Is")
	}
}

func TestWrapf(t *testing.T) {
	if staterailerrors.Wrapf(nil, "run %s", "abc") != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	base := staterailerrors.New("boom")
	wrapped := staterailerrors.Wrapf(base, "run %s", "abc")
	if got, want := wrapped.Error(), "run abc: boom"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
}

func TestIsNotFound(t *testing.T) {
	nf := &staterailerrors.NotFoundError{Resource: "workflow", ID: "wf-1"}

	if !staterailerrors.IsNotFound(nf) {
		t.Error("IsNotFound should match a NotFoundError")
	}
	if !staterailerrors.IsNotFound(fmt.Errorf("loading: %w", nf)) {
		t.Error("IsNotFound should match a wrapped NotFoundError")
	}
	if staterailerrors.IsNotFound(staterailerrors.New("other")) {
		t.Error("IsNotFound should not match unrelated errors")
	}
	if staterailerrors.IsNotFound(nil) {
		t.Error("IsNotFound(nil) should be false")
	}
}

func TestIsValidation(t *testing.T) {
	ve := &staterailerrors.ValidationError{Field: "name", Message: "empty"}

	if !staterailerrors.IsValidation(ve) {
		t.Error("IsValidation should match a ValidationError")
	}
	if !staterailerrors.IsValidation(fmt.Errorf("creating: %w", ve)) {
		t.Error("IsValidation should match a wrapped ValidationError")
	}
	if staterailerrors.IsValidation(&staterailerrors.NotFoundError{Resource: "run", ID: "r"}) {
		t.Error("IsValidation should not match a NotFoundError")
	}
}

func TestAs(t *testing.T) {
	inner := &staterailerrors.StepExecutionError{Step: "call", StatusCode: 500}
	wrapped := staterailerrors.Wrap(inner, "executing step")

	var target *staterailerrors.StepExecutionError
	if !staterailerrors.As(wrapped, &target) {
		t.Fatal("As should find the StepExecutionError")
	}
	if target.StatusCode != 500 {
		t.Errorf("As extracted StatusCode = %d, want 500", target.StatusCode)
	}
}
