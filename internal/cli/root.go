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

// Package cli holds the root Cobra command and the state shared by the
// staterail subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/staterail/staterail/internal/client"
)

// DefaultServerURL is used when neither --server nor STATERAIL_SERVER is set.
const DefaultServerURL = "http://127.0.0.1:8420"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	serverURL  string
	jsonOutput bool
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// JSONOutput reports whether --json was passed.
func JSONOutput() bool {
	return jsonOutput
}

// NewClient creates an API client for the configured daemon address.
func NewClient() *client.Client {
	url := serverURL
	if url == "" {
		url = os.Getenv("STATERAIL_SERVER")
	}
	if url == "" {
		url = DefaultServerURL
	}
	return client.New(url)
}

// NewRootCommand creates the root Cobra command for staterail.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staterail",
		Short: "staterail - workflow orchestration",
		Long: `staterail is a command-line tool for managing workflow definitions and
their runs against a stateraild daemon: create workflows of http, delay,
and manual steps, start runs, watch them progress live, and resolve
manual steps.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Daemon address (default: $STATERAIL_SERVER or "+DefaultServerURL+")")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// HandleExitError prints the error and exits non-zero.
func HandleExitError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
