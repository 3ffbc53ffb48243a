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

package simulate

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/pkg/command"
	"github.com/shirok1/go-livox/pkg/config"
)

const (
	IPOptionName            = "ip"
	BroadcastCodeOptionName = "broadcast-code"
	AnnounceToOptionName    = "announce-to"
	AnnounceOptionName      = "announce"
	StreamOptionName        = "stream"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	opts := command.SimulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Pretend to be a device for testing without hardware",
		Example: `
Run a device and a host on the same machine
# go-livox simulate --announce-to 127.0.0.1 &
# go-livox serve --host-ip 127.0.0.1
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.Simulate(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.IP, IPOptionName, "0.0.0.0", "IP to bind")
	cmd.Flags().StringVar(&opts.BroadcastCode, BroadcastCodeOptionName, "0TFDG3B006H2Z11", "Broadcast code to announce")
	cmd.Flags().StringVar(&opts.AnnounceTo, AnnounceToOptionName, "255.255.255.255", "Address to send broadcasts to")
	cmd.Flags().DurationVar(&opts.Announce, AnnounceOptionName, time.Second, "Interval between broadcasts")
	cmd.Flags().DurationVar(&opts.Stream, StreamOptionName, 10*time.Millisecond, "Interval between point cloud datagrams")
	return cmd
}
