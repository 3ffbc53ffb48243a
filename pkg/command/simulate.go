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

package command

import (
	"context"
	"net"
	"time"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/device"
	"github.com/shirok1/go-livox/pkg/log"
)

type SimulateOptions struct {
	IP            string
	BroadcastCode string
	// AnnounceTo is the host broadcasts go to, e.g. 255.255.255.255
	AnnounceTo string
	Announce   time.Duration
	Stream     time.Duration
}

// Simulate pretends to be a device on the device command port
func Simulate(ctx context.Context, cfg *config.Config, opts SimulateOptions) error {
	sim, err := device.NewSimulator(opts.IP, cfg.Device.CmdPort, opts.BroadcastCode)
	if err != nil {
		return err
	}
	to := &net.UDPAddr{IP: net.ParseIP(opts.AnnounceTo), Port: cfg.Discover.Port}
	log.Info("Simulating device %s on %s, announcing to %s", opts.BroadcastCode, sim.Addr(), to)

	go sim.Announce(ctx, to, opts.Announce)
	go sim.Stream(ctx, opts.Stream)
	return sim.Run(ctx)
}
