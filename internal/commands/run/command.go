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

// Package run implements the run subcommands.
package run

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staterail/staterail/internal/cli"
	wf "github.com/staterail/staterail/pkg/workflow"
)

// NewCommand creates the run command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect workflow runs",
	}

	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newWatchCommand())

	return cmd
}

func newStartCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Start a new run of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewClient()
			run, err := c.StartRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !watch {
				if cli.JSONOutput() {
					return printJSON(cmd, run)
				}
				cmd.Printf("Started run %s\n", run.ID)
				return nil
			}

			cmd.Printf("Started run %s, watching...\n", run.ID)
			return watchRun(cmd, run.ID)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Watch the run until it reaches a terminal status")

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <workflow-id>",
		Short: "List the runs of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := cli.NewClient().ListRuns(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, runs)
			}

			if len(runs) == 0 {
				cmd.Println("No runs.")
				return nil
			}
			for _, r := range runs {
				cmd.Printf("%s  %-9s  created %s\n", r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run with its step runs and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := cli.NewClient().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, detail)
			}

			printDetail(cmd, detail)
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Stream a run's state until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchRun(cmd, args[0])
		},
	}
}

func watchRun(cmd *cobra.Command, runID string) error {
	updates, err := cli.NewClient().WatchRun(cmd.Context(), runID)
	if err != nil {
		return err
	}

	seenEvents := 0
	for detail := range updates {
		// Print only events not yet shown; each snapshot carries the
		// full history.
		for _, ev := range detail.Events[seenEvents:] {
			cmd.Printf("%s  %-14s  %s\n", ev.CreatedAt.Format("15:04:05.000"), ev.Type, ev.Message)
		}
		seenEvents = len(detail.Events)

		if detail.Run.Status.Terminal() {
			cmd.Printf("Run %s %s\n", detail.Run.ID, detail.Run.Status)
			return nil
		}
	}
	return fmt.Errorf("watch stream closed before run %s finished", runID)
}

func printDetail(cmd *cobra.Command, detail *wf.RunDetail) {
	r := detail.Run
	cmd.Printf("Run %s  (%s)\n", r.ID, r.Status)
	cmd.Printf("  workflow: %s\n", r.WorkflowID)
	if r.StartedAt != nil {
		cmd.Printf("  started:  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if r.FinishedAt != nil {
		cmd.Printf("  finished: %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	if len(detail.StepRuns) > 0 {
		cmd.Println("Steps:")
		for _, sr := range detail.StepRuns {
			cmd.Printf("  %s  %-9s  [%s]\n", sr.ID, sr.Status, sr.WorkflowStepID)
		}
	}

	if len(detail.Events) > 0 {
		cmd.Println("Events:")
		for _, ev := range detail.Events {
			cmd.Printf("  %s  %-14s  %s\n", ev.CreatedAt.Format("15:04:05.000"), ev.Type, ev.Message)
		}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
