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

package sampling

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/pkg/command"
	"github.com/shirok1/go-livox/pkg/config"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sampling",
		Short: "Start or stop point cloud sampling",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start sampling",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := command.NewApiClient(cfg).SamplingStart()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sampling started, session %s is %s\n", snap.ID, snap.State)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop sampling",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := command.NewApiClient(cfg).SamplingStop()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sampling stopped, session %s is %s\n", snap.ID, snap.State)
			return nil
		},
	})
	return cmd
}
