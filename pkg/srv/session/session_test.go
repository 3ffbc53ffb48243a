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
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/device"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/srv/control"
)

const broadcastCode = "3WEDH7600101621"

var forwardLidar = [12]float64{
	0, -1, 0, 0,
	0, 0, -1, 0,
	1, 0, 0, 0,
}

func drop(*layers.ControlFrame) (layers.Payload, bool) {
	return layers.Payload{}, false
}

func testConfig(sim *device.Simulator) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.HostIP = "127.0.0.1"
	cfg.Device.IP = "127.0.0.1"
	cfg.Device.CmdPort = sim.Addr().Port
	cfg.Control.Port = 0
	cfg.Control.Timeout = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Control.MaxRetries = 1
	cfg.Control.HeartbeatInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Control.HeartbeatTimeout = config.Duration{Duration: 20 * time.Millisecond}
	cfg.PointCloud.Port = 0
	cfg.Calibration.Extrinsic = forwardLidar
	return cfg
}

func setup(t *testing.T, mutate func(cfg *config.Config)) (*Manager, *device.Simulator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sim, err := device.NewSimulator("127.0.0.1", 0, broadcastCode)
	require.NoError(t, err)
	go sim.Run(ctx)

	cfg := testConfig(sim)
	if mutate != nil {
		mutate(cfg)
	}
	m, err := NewManager(ctx, cfg, nil)
	require.NoError(t, err)
	go m.Run()
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, sim
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 2*time.Millisecond, "state %s, want %s", m.State(), want)
}

func TestSessionLifecycle(t *testing.T) {
	m, sim := setup(t, nil)
	ctx := context.Background()
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, uuid.Nil, m.SessionID())

	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, StateActive, m.State())
	assert.NotEqual(t, uuid.Nil, m.SessionID())
	assert.Equal(t, m.pc.LocalAddr().Port, sim.DataAddr().Port)

	require.NoError(t, m.StartSampling(ctx))
	assert.True(t, sim.Sampling())

	version, err := m.DeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6.4.0.0", version)

	extrinsic := layers.Extrinsic{Roll: 1.5, Pitch: -2, Yaw: 90, X: 10, Y: -20, Z: 300}
	require.NoError(t, m.WriteExtrinsic(ctx, extrinsic))
	got, err := m.ReadExtrinsic(ctx)
	require.NoError(t, err)
	assert.Equal(t, extrinsic, got)

	require.NoError(t, m.SetCoordinate(ctx, layers.CoordinateCartesian))

	assert.Eventually(t, func() bool { return sim.Received(layers.CmdHeartbeat) >= 2 },
		time.Second, 5*time.Millisecond)

	snap, err := m.Session()
	require.NoError(t, err)
	assert.Equal(t, m.SessionID(), snap.ID)
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, snap.Sampling)
	assert.Equal(t, sim.Addr().String(), snap.Device)
	assert.Equal(t, layers.WorkStateNormal, snap.WorkState)

	require.NoError(t, m.StopSampling(ctx))
	assert.False(t, sim.Sampling())

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 1, sim.Received(layers.CmdDisconnect))

	var stateErr ErrSessionState
	assert.ErrorAs(t, m.Connect(ctx), &stateErr)
	assert.Equal(t, StateClosed, stateErr.State)
	assert.NoError(t, m.Shutdown(ctx))

	select {
	case _, open := <-m.Frames():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("frame stream was not closed")
	}
}

func TestCommandsNeedOpenSession(t *testing.T) {
	m, sim := setup(t, nil)

	err := m.StartSampling(context.Background())
	var stateErr ErrSessionState
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "start sampling", stateErr.Op)
	assert.Equal(t, StateIdle, stateErr.State)

	_, err = m.DeviceInfo(context.Background())
	assert.ErrorAs(t, err, &ErrSessionState{})
	assert.Zero(t, sim.Received(layers.CmdSampling))
}

func TestHandshakeTimeout(t *testing.T) {
	m, sim := setup(t, nil)
	sim.Handle(layers.CmdHandshake, drop)

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.ErrorIs(t, err, control.ErrCommandTimeout)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 2, sim.Received(layers.CmdHandshake))

	sim.Handle(layers.CmdHandshake, nil)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateActive, m.State())
}

func TestHandshakeRejected(t *testing.T) {
	m, sim := setup(t, nil)
	sim.Handle(layers.CmdHandshake, func(*layers.ControlFrame) (layers.Payload, bool) {
		schema, _ := layers.LookupSchema(layers.CmdHandshake, layers.FrameTypeAck)
		return schema.New().SetUint8(layers.FieldRetCode, 1), true
	})

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.Equal(t, StateIdle, m.State())
}

func TestConnectTwice(t *testing.T) {
	m, _ := setup(t, nil)
	require.NoError(t, m.Connect(context.Background()))
	err := m.Connect(context.Background())
	var stateErr ErrSessionState
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateActive, stateErr.State)
}

// forceActive opens a session without a device and without heartbeats
func forceActive(t *testing.T, m *Manager) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, m.call(func(s *session) {
		s.id = id
		m.setState(s, StateActive, "test")
	}))
	return id
}

func TestHeartbeatThresholds(t *testing.T) {
	m, _ := setup(t, nil)
	id := forceActive(t, m)
	observer := &sessionObserver{manager: m, id: id}
	timeout := errors.Wrap(control.ErrCommandTimeout, "heartbeat")

	for i := 1; i < 5; i++ {
		assert.True(t, observer.HeartbeatFailed(timeout))
		assert.Equal(t, StateActive, m.State(), "after %d failures", i)
	}
	assert.True(t, observer.HeartbeatFailed(timeout))
	assert.Equal(t, StateDegraded, m.State())

	assert.True(t, observer.HeartbeatSucceeded(layers.HeartbeatStatus{WorkState: layers.WorkStateNormal}))
	assert.Equal(t, StateActive, m.State())
	snap, err := m.Session()
	require.NoError(t, err)
	assert.Zero(t, snap.HeartbeatFailures)

	for i := 1; i < 10; i++ {
		assert.True(t, observer.HeartbeatFailed(timeout), "failure %d", i)
	}
	assert.Equal(t, StateDegraded, m.State())
	assert.False(t, observer.HeartbeatFailed(timeout))
	assert.Equal(t, StateDisconnected, m.State())

	stale := &sessionObserver{manager: m, id: uuid.New()}
	assert.False(t, stale.HeartbeatSucceeded(layers.HeartbeatStatus{}))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestHeartbeatErrorStatusDisconnects(t *testing.T) {
	m, _ := setup(t, nil)
	observer := &sessionObserver{manager: m, id: forceActive(t, m)}

	warning := layers.StatusCode(layers.StatusWarning << 30)
	assert.True(t, observer.HeartbeatSucceeded(layers.HeartbeatStatus{Status: warning}))
	assert.Equal(t, StateActive, m.State())

	failure := layers.StatusCode(layers.StatusError << 30)
	assert.False(t, observer.HeartbeatSucceeded(layers.HeartbeatStatus{Status: failure}))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestHeartbeatLossDegradesAndRecovers(t *testing.T) {
	m, sim := setup(t, func(cfg *config.Config) {
		cfg.Control.DisconnectThreshold = 1000
	})
	require.NoError(t, m.Connect(context.Background()))

	sim.Handle(layers.CmdHeartbeat, drop)
	waitState(t, m, StateDegraded)
	sim.Handle(layers.CmdHeartbeat, nil)
	waitState(t, m, StateActive)
}

func TestHeartbeatLossDisconnectsAndReconnects(t *testing.T) {
	m, sim := setup(t, func(cfg *config.Config) {
		cfg.Control.DegradedThreshold = 2
		cfg.Control.DisconnectThreshold = 3
	})
	require.NoError(t, m.Connect(context.Background()))
	first := m.SessionID()

	sim.Handle(layers.CmdHeartbeat, drop)
	waitState(t, m, StateDisconnected)

	var states []State
	for len(states) < 4 {
		select {
		case change := <-m.StateChanges():
			states = append(states, change.To)
		case <-time.After(time.Second):
			t.Fatalf("missing state changes, got %v", states)
		}
	}
	assert.Equal(t, []State{StateHandshaking, StateActive, StateDegraded, StateDisconnected}, states)

	sim.Handle(layers.CmdHeartbeat, nil)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateActive, m.State())
	assert.NotEqual(t, first, m.SessionID())
}

func TestAbnormalStatusPushDisconnects(t *testing.T) {
	m, sim := setup(t, nil)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, sim.PushStatus(layers.StatusCode(layers.StatusWarning<<30)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateActive, m.State())

	require.NoError(t, sim.PushStatus(layers.StatusCode(layers.StatusError<<30)))
	waitState(t, m, StateDisconnected)
}

func TestPointStream(t *testing.T) {
	m, sim := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.StartSampling(ctx))

	const datagrams = 20
	for i := 0; i < datagrams; i++ {
		h := layers.PointCloudHeader{
			Version:   5,
			LidarID:   1,
			DataType:  layers.DataTypeCartesian,
			Timestamp: uint64(i),
		}
		require.NoError(t, sim.SendPoints(h, device.SyntheticScan(i)))
	}

	for i := 0; i < datagrams; i++ {
		select {
		case frame := <-m.Frames():
			assert.Equal(t, m.SessionID(), frame.SessionID)
			assert.Equal(t, uint64(i), frame.Timestamp, "frame "+strconv.Itoa(i))
			assert.Len(t, frame.Points, layers.PointsPerFrame)
		case <-time.After(time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}
	stats := m.Stats()
	assert.Equal(t, uint64(datagrams*layers.PointsPerFrame), stats.PointCloud.Points)
	assert.NotZero(t, stats.Control.Acked)
}

func TestShutdownAfterContextDone(t *testing.T) {
	for _, run := range []bool{true, false} {
		t.Run("run="+strconv.FormatBool(run), func(t *testing.T) {
			simCtx, simCancel := context.WithCancel(context.Background())
			defer simCancel()
			sim, err := device.NewSimulator("127.0.0.1", 0, broadcastCode)
			require.NoError(t, err)
			go sim.Run(simCtx)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			m, err := NewManager(ctx, testConfig(sim), nil)
			require.NoError(t, err)
			if run {
				go m.Run()
				require.NoError(t, m.Connect(context.Background()))
				require.True(t, m.Streaming())
			}

			cancel()
			waitState(t, m, StateClosed)
			assert.False(t, m.Streaming())

			require.NoError(t, m.Shutdown(context.Background()))
			assert.Equal(t, StateClosed, m.State())
			assert.False(t, m.Streaming())
			select {
			case _, open := <-m.Frames():
				assert.False(t, open)
			case <-time.After(2 * time.Second):
				t.Fatal("frames not closed")
			}
			assert.NoError(t, m.Shutdown(context.Background()))
		})
	}
}
