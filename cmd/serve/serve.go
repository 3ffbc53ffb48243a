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

package serve

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shirok1/go-livox/pkg/command"
	"github.com/shirok1/go-livox/pkg/config"
)

const (
	HostIPOptionName        = "host-ip"
	DeviceIPOptionName      = "device-ip"
	BroadcastCodeOptionName = "broadcast-code"
	NoConnectOptionName     = "no-connect"
	NoReconnectOptionName   = "no-reconnect"
	MQTTBrokerOptionName    = "mqtt-broker"
	RawOptionName           = "raw"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	var hostIP, deviceIP, broadcastCode, broker string
	var noConnect, noReconnect, raw bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to a device, publish its point cloud and serve the session API",
		Long: `Connect to a device, publish its point cloud and serve the session API.

Without a device IP the discover server is started too and the session is
opened with the first device that broadcasts the given broadcast code, or
any device when the code is empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hostIP != "" {
				cfg.HostIP = hostIP
			}
			if deviceIP != "" {
				cfg.Device.IP = deviceIP
			}
			if broadcastCode != "" {
				cfg.Device.BroadcastCode = broadcastCode
			}
			if broker != "" {
				cfg.SetMQTTBroker(broker)
			}
			if raw {
				cfg.Publish.Raw = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return command.Serve(cmd.Context(), cfg, command.ServeOptions{
				Connect:   !noConnect,
				Reconnect: !noReconnect,
			})
		},
	}
	cmd.Flags().StringVar(&hostIP, HostIPOptionName, "", fmt.Sprintf("IP of this host the device sends data to. E.g. %s", config.DefaultHostIP))
	cmd.Flags().StringVar(&deviceIP, DeviceIPOptionName, "", "Device IP. Empty means discover it by broadcast")
	cmd.Flags().StringVar(&broadcastCode, BroadcastCodeOptionName, "", "Broadcast code of the device to discover")
	cmd.Flags().StringVar(&broker, MQTTBrokerOptionName, "", "MQTT broker to publish frames to. E.g. tcp://127.0.0.1:1883")
	cmd.Flags().BoolVar(&raw, RawOptionName, false, "Publish raw points together with projected ones")
	cmd.Flags().BoolVar(&noConnect, NoConnectOptionName, false, "Do not connect until asked via the API")
	cmd.Flags().BoolVar(&noReconnect, NoReconnectOptionName, false, "Do not reconnect after the device is lost")
	return cmd
}
