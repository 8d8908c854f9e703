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

// Package step implements the step subcommands.
package step

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staterail/staterail/internal/cli"
)

// NewCommand creates the step command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Resolve manual steps",
	}

	cmd.AddCommand(newCompleteCommand())

	return cmd
}

func newCompleteCommand() *cobra.Command {
	var fail bool

	cmd := &cobra.Command{
		Use:   "complete <step-run-id>",
		Short: "Complete a manual step, resuming its run",
		Long: `Complete a manual step run as succeeded (the default) or failed
(--fail). Completing a step that already reached a terminal status is a
no-op and reports its current state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sr, err := cli.NewClient().CompleteStep(cmd.Context(), args[0], !fail)
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				data, err := json.MarshalIndent(sr, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal output: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			cmd.Printf("Step run %s is now %s\n", sr.ID, sr.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fail, "fail", false, "Mark the step as failed instead of succeeded")

	return cmd
}
