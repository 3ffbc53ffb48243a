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
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/srv"
)

// Devices broadcast once per second until a host connects
const DeviceOfflineAfter = 3 * time.Second

// DiscoverServer listens for device broadcasts and records them
type DiscoverServer struct {
	srv.Server
	cancel context.CancelFunc
	conn   *net.UDPConn
	state  *State

	mu      sync.Mutex
	updated chan struct{}

	closeOnce sync.Once
}

func NewDiscoverServer(ctx context.Context, cfg *config.Config) (*DiscoverServer, error) {
	log.Info("Initializing discover server with port: %d", cfg.Discover.Port)

	state, err := NewState(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	conn, err := srv.Listen("0.0.0.0", cfg.Discover.Port, 0)
	if err != nil {
		state.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &DiscoverServer{
		Server: srv.Server{
			Context: ctx,
			Config:  cfg,
			UDPAddr: conn.LocalAddr().(*net.UDPAddr),
			ChIn:    make(chan srv.InPacket),
		},
		cancel:  cancel,
		conn:    conn,
		state:   state,
		updated: make(chan struct{}),
	}
	return s, nil
}

func (s *DiscoverServer) Run() error {
	defer s.Close()

	errChan := make(chan error, 1)

	// Read UDP packets from wire and put them to input queue
	go s.Capture(s.conn, errChan)

	// Read captured packets from input queue, parse them and update the discover database
	go func() {
		source := gopacket.NewPacketSource(s, layers.ControlLayerType)
		source.NoCopy = true
		for packet := range source.Packets() {
			if err := s.handlePacket(packet); err != nil {
				log.Debug("Drop discovery datagram: %s", err)
			}
		}
	}()

	select {
	case <-s.Context.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

func (s *DiscoverServer) handlePacket(packet gopacket.Packet) error {
	frame, err := layers.ControlFrameFromPacket(packet)
	if err != nil {
		return err
	}
	dd, err := layers.DeviceDescriptionFromBroadcast(frame)
	if err != nil {
		return err
	}
	udpAddr, err := srv.GetAddrPort(packet)
	if err != nil {
		return err
	}
	dd.SetSource(udpAddr)
	dd.SetTimestamp()

	if err := s.state.SetDeviceDescription(dd); err != nil {
		log.Error("Error while updating device description: device: %s error: %s", dd.BroadcastCode, err)
		return err
	}
	log.Debug("Device %s (%s) at %s", dd.BroadcastCode, dd.DeviceType, udpAddr)
	s.notify()
	return nil
}

func (s *DiscoverServer) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.updated)
	s.updated = make(chan struct{})
}

func (s *DiscoverServer) updates() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

func (s *DiscoverServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
		err = s.state.Close()
	})
	return err
}

func (s *DiscoverServer) LocalAddr() *net.UDPAddr {
	return s.UDPAddr
}

// Devices returns every device ever seen
func (s *DiscoverServer) Devices() ([]*layers.DeviceDescription, error) {
	return s.state.GetAllDeviceDescriptions()
}

func online(dd *layers.DeviceDescription) bool {
	return srv.Now()-dd.Timestamp <= uint64(DeviceOfflineAfter.Milliseconds())
}

func (s *DiscoverServer) lookup(broadcastCode string) *layers.DeviceDescription {
	if broadcastCode != "" {
		dd, err := s.state.GetDeviceDescription(broadcastCode)
		if err != nil || !online(dd) {
			return nil
		}
		return dd
	}
	devices, err := s.state.GetAllDeviceDescriptions()
	if err != nil {
		return nil
	}
	var latest *layers.DeviceDescription
	for _, dd := range devices {
		if online(dd) && (latest == nil || dd.Timestamp > latest.Timestamp) {
			latest = dd
		}
	}
	return latest
}

// WaitForDevice blocks until the device with the broadcast code is online.
// An empty code accepts any device.
func (s *DiscoverServer) WaitForDevice(ctx context.Context, broadcastCode string) (*layers.DeviceDescription, error) {
	for {
		updated := s.updates()
		if dd := s.lookup(broadcastCode); dd != nil {
			return dd, nil
		}
		select {
		case <-updated:
		case <-ctx.Done():
			return nil, ErrDeviceNotFound{BroadcastCode: broadcastCode}
		case <-s.Context.Done():
			return nil, ErrDeviceNotFound{BroadcastCode: broadcastCode}
		}
	}
}
