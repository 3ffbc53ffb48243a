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
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/device"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/srv"
)

func TestState(t *testing.T) {
	state, err := NewState(filepath.Join(t.TempDir(), "db", "devices.db"))
	require.NoError(t, err)
	defer state.Close()

	for _, code := range []string{"0TFDFCE00502151", "3WEDH7600101621"} {
		dd := &layers.DeviceDescription{
			BroadcastCode: code,
			DeviceType:    layers.DeviceTypeHorizon,
			Address:       net.IPv4(192, 168, 1, 3).To4(),
			Port:          65000,
			Timestamp:     srv.Now(),
		}
		require.NoError(t, state.SetDeviceDescription(dd))
	}

	dd, err := state.GetDeviceDescription("3WEDH7600101621")
	require.NoError(t, err)
	assert.Equal(t, layers.DeviceTypeHorizon, dd.DeviceType)
	assert.True(t, dd.Address.Equal(net.IPv4(192, 168, 1, 3)))
	assert.Equal(t, uint16(65000), dd.Port)

	all, err := state.GetAllDeviceDescriptions()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = state.GetDeviceDescription("missing")
	assert.ErrorAs(t, err, &ErrDeviceNotFound{})
}

func newServer(t *testing.T) (*DiscoverServer, *device.Simulator, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.NewDefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "devices.db")
	cfg.Discover.Port = 0
	s, err := NewDiscoverServer(ctx, cfg)
	require.NoError(t, err)
	go s.Run()
	t.Cleanup(func() { s.Close() })

	sim, err := device.NewSimulator("127.0.0.1", 0, "3WEDH7600101621")
	require.NoError(t, err)
	go sim.Run(ctx)
	return s, sim, ctx
}

func target(s *DiscoverServer) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.LocalAddr().Port}
}

func TestWaitForDevice(t *testing.T) {
	s, sim, ctx := newServer(t)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		sim.Broadcast(target(s))
	}()

	dd, err := s.WaitForDevice(ctx, "3WEDH7600101621")
	require.NoError(t, err)
	assert.Equal(t, "3WEDH7600101621", dd.BroadcastCode)
	assert.Equal(t, layers.DeviceTypeHorizon, dd.DeviceType)
	assert.Equal(t, sim.Addr().Port, dd.CmdAddr().Port)
	assert.True(t, dd.CmdAddr().IP.Equal(net.IPv4(127, 0, 0, 1)))

	dd, err = s.WaitForDevice(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "3WEDH7600101621", dd.BroadcastCode)
}

func TestWaitForDeviceGivesUp(t *testing.T) {
	s, sim, ctx := newServer(t)
	require.NoError(t, sim.Broadcast(target(s)))

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err := s.WaitForDevice(ctx, "0TFDFCE00502151")
	assert.ErrorAs(t, err, &ErrDeviceNotFound{})
}

func TestIgnoresNonBroadcast(t *testing.T) {
	s, sim, _ := newServer(t)
	require.NoError(t, sim.SendRaw(target(s), []byte("not a frame")))
	require.NoError(t, sim.Broadcast(target(s)))

	assert.Eventually(t, func() bool {
		devices, err := s.Devices()
		return err == nil && len(devices) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestApi(t *testing.T) {
	s, sim, ctx := newServer(t)
	require.NoError(t, sim.Broadcast(target(s)))
	require.Eventually(t, func() bool {
		devices, err := s.Devices()
		return err == nil && len(devices) == 1
	}, time.Second, 5*time.Millisecond)

	api, err := NewApiServer(ctx, s.Config, s)
	require.NoError(t, err)
	handler := api.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var devices []DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "3WEDH7600101621", devices[0].BroadcastCode)
	assert.True(t, devices[0].Online)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "getDevices")
}
