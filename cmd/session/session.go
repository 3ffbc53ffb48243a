/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package session

import (
	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/pkg/command"
	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/srv/session"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and control the session of go-livox serve",
	}
	cmd.AddCommand(newSessionCommand(cfg, "status", "Print the session state", (*command.ApiClient).Session))
	cmd.AddCommand(newSessionCommand(cfg, "connect", "Open a new session", (*command.ApiClient).Connect))
	cmd.AddCommand(newSessionCommand(cfg, "shutdown", "Close the session and stop serving", (*command.ApiClient).Shutdown))
	cmd.AddCommand(NewStatsCommand(cfg))
	return cmd
}

func newSessionCommand(cfg *config.Config, use, short string, do func(*command.ApiClient) (*session.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := do(command.NewApiClient(cfg))
			if err != nil {
				return err
			}
			return command.PrintYAML(cmd.OutOrStdout(), snap)
		},
	}
}

func NewStatsCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print command and point cloud counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := command.NewApiClient(cfg).Stats()
			if err != nil {
				return err
			}
			return command.PrintYAML(cmd.OutOrStdout(), stats)
		},
	}
}
