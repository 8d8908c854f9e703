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

// Package workflow implements the workflow management subcommands.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/staterail/staterail/internal/cli"
	"github.com/staterail/staterail/internal/daemon/api"
	wf "github.com/staterail/staterail/pkg/workflow"
)

// NewCommand creates the workflow command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow definitions",
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newUpdateCommand())

	return cmd
}

// fileSpec is the YAML shape accepted by create and update.
type fileSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []fileStepSpec `yaml:"steps"`
}

type fileStepSpec struct {
	Name   string        `yaml:"name"`
	Kind   string        `yaml:"kind"`
	Config wf.StepConfig `yaml:"config"`
}

func loadSpec(path string) (*fileSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	return &spec, nil
}

func (s *fileSpec) apiSteps() []api.StepSpec {
	steps := make([]api.StepSpec, len(s.Steps))
	for i, st := range s.Steps {
		steps[i] = api.StepSpec{
			Name:   st.Name,
			Kind:   wf.StepKind(st.Kind),
			Config: st.Config,
			Order:  i,
		}
	}
	return steps
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			wfs, err := cli.NewClient().ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, wfs)
			}

			if len(wfs) == 0 {
				cmd.Println("No workflows.")
				return nil
			}
			for _, w := range wfs {
				cmd.Printf("%s  %s (%d steps)\n", w.ID, w.Name, len(w.Steps))
			}
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Show a workflow and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := cli.NewClient().GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, w)
			}

			cmd.Printf("%s  %s\n", w.ID, w.Name)
			if w.Description != "" {
				cmd.Printf("  %s\n", w.Description)
			}
			for _, s := range w.Steps {
				cmd.Printf("  %d. %s (%s)  [%s]\n", s.Order+1, s.Name, s.Kind, s.ID)
			}
			return nil
		},
	}
}

func newCreateCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create -f <file.yaml>",
		Short: "Create a workflow from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpec(file)
			if err != nil {
				return err
			}

			w, err := cli.NewClient().CreateWorkflow(cmd.Context(), api.CreateWorkflowRequest{
				Name:        spec.Name,
				Description: spec.Description,
				Steps:       spec.apiSteps(),
			})
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, w)
			}
			cmd.Printf("Created workflow %s (%s)\n", w.Name, w.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newUpdateCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update <workflow-id> -f <file.yaml>",
		Short: "Replace a workflow's steps from a YAML file",
		Long: `Replace a workflow's step sequence from a YAML file. Runs already in
flight keep executing their original step sequence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpec(file)
			if err != nil {
				return err
			}

			req := api.UpdateWorkflowRequest{Steps: spec.apiSteps()}
			if spec.Name != "" {
				req.Name = &spec.Name
			}
			if spec.Description != "" {
				req.Description = &spec.Description
			}

			w, err := cli.NewClient().UpdateWorkflow(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, w)
			}
			cmd.Printf("Updated workflow %s (%d steps)\n", w.ID, len(w.Steps))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
