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

package discover

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/srv/discover"
)

const (
	PortOptionName = "port"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover devices by their broadcasts",
	}
	cmd.AddCommand(NewStartCommand(cfg))
	cmd.AddCommand(NewListCommand(cfg))
	return cmd
}

func NewStartCommand(cfg *config.Config) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start discover server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Discover.Port = port
			}
			server, err := discover.NewDiscoverServer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			api, err := discover.NewApiServer(cmd.Context(), cfg, server)
			if err != nil {
				server.Close()
				return err
			}
			errChan := make(chan error, 1)
			go func() { errChan <- api.Run() }()
			if err := server.Run(); err != nil {
				return err
			}
			return <-errChan
		},
	}
	cmd.Flags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("Port to listen for broadcasts on. E.g. %d", config.DefaultDiscoverPort))
	return cmd
}
