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

package device

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shirok1/go-livox/pkg/layers"
)

const code = "0TFDG3B006H2Z11"

func start(t *testing.T) (*Simulator, *net.UDPConn) {
	sim, err := NewSimulator("127.0.0.1", 0, code)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sim.Run(ctx)

	host, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })
	return sim, host
}

func exchange(t *testing.T, host *net.UDPConn, to *net.UDPAddr, key layers.CommandKey, seq uint16, payload layers.Payload) *layers.ControlFrame {
	frame, err := layers.NewCommandFrame(key, seq, payload)
	require.NoError(t, err)
	data, err := layers.EncodeControlFrame(frame)
	require.NoError(t, err)
	_, err = host.WriteToUDP(data, to)
	require.NoError(t, err)

	require.NoError(t, host.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, layers.ControlMaxFrameSize)
	n, _, err := host.ReadFromUDP(buf)
	require.NoError(t, err)
	ack, err := layers.DecodeControlFrame(buf[:n])
	require.NoError(t, err)
	return ack
}

func TestSimulatorAnswers(t *testing.T) {
	sim, host := start(t)

	ack := exchange(t, host, sim.Addr(), layers.CmdHandshake, 41,
		layers.HandshakeRequest(net.IPv4(127, 0, 0, 1), 7731, 1157, 0))
	assert.Equal(t, layers.FrameTypeAck, ack.Type)
	assert.Equal(t, uint16(41), ack.Seq)
	assert.Equal(t, layers.CmdHandshake, ack.Key)
	require.NotNil(t, sim.DataAddr())
	assert.Equal(t, 7731, sim.DataAddr().Port)

	ack = exchange(t, host, sim.Addr(), layers.CmdSampling, 42, layers.SamplingRequest(true))
	ret, err := ack.RetCode()
	require.NoError(t, err)
	assert.Zero(t, ret)
	assert.True(t, sim.Sampling())

	ack = exchange(t, host, sim.Addr(), layers.CmdQueryDeviceInfo, 43, layers.Payload{})
	assert.Equal(t, "6.4.0.0", layers.FirmwareVersion(ack.Payload))

	e := layers.Extrinsic{Roll: 0.5, Pitch: 1, Yaw: -90, X: 10, Y: 20, Z: -30}
	exchange(t, host, sim.Addr(), layers.CmdWriteExtrinsic, 44, layers.ExtrinsicRequest(e))
	ack = exchange(t, host, sim.Addr(), layers.CmdReadExtrinsic, 45, layers.Payload{})
	assert.Equal(t, e, layers.ExtrinsicFromPayload(ack.Payload))

	assert.Equal(t, 1, sim.Received(layers.CmdHandshake))
	assert.Equal(t, 1, sim.Received(layers.CmdSampling))
}

func TestSimulatorBehavior(t *testing.T) {
	sim, host := start(t)

	sim.Handle(layers.CmdHeartbeat, func(req *layers.ControlFrame) (layers.Payload, bool) {
		schema, _ := layers.LookupSchema(layers.CmdHeartbeat, layers.FrameTypeAck)
		return schema.New().SetUint8(layers.FieldRetCode, 1), true
	})
	ack := exchange(t, host, sim.Addr(), layers.CmdHeartbeat, 1, layers.Payload{})
	ret, err := ack.RetCode()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), ret)

	sim.Handle(layers.CmdHeartbeat, nil)
	sim.SetStatus(layers.StatusCode(layers.StatusWarning << 30))
	ack = exchange(t, host, sim.Addr(), layers.CmdHeartbeat, 2, layers.Payload{})
	status := layers.HeartbeatStatusFromPayload(ack.Payload)
	assert.Equal(t, layers.WorkStateNormal, status.WorkState)
	assert.Equal(t, uint8(layers.StatusWarning), status.Status.SystemStatus())
}

func TestSimulatorBroadcast(t *testing.T) {
	sim, host := start(t)
	require.NoError(t, sim.Broadcast(host.LocalAddr().(*net.UDPAddr)))

	require.NoError(t, host.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, layers.ControlMaxFrameSize)
	n, from, err := host.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, sim.Addr().Port, from.Port)

	frame, err := layers.DecodeControlFrame(buf[:n])
	require.NoError(t, err)
	dd, err := layers.DeviceDescriptionFromBroadcast(frame)
	require.NoError(t, err)
	assert.Equal(t, code, dd.BroadcastCode)
	assert.Equal(t, layers.DeviceTypeHorizon, dd.DeviceType)
}

func TestSimulatorNeedsHandshake(t *testing.T) {
	sim, _ := start(t)
	assert.Error(t, sim.PushStatus(layers.StatusCode(layers.StatusError<<30)))
	assert.Error(t, sim.SendPoints(layers.PointCloudHeader{DataType: layers.DataTypeCartesian}, SyntheticScan(0)))
}

func TestSyntheticScan(t *testing.T) {
	records := SyntheticScan(7)
	require.Len(t, records, layers.PointsPerFrame)
	for i, r := range records {
		assert.Equal(t, int32(5000), r.X)
		assert.LessOrEqual(t, r.Y, int32(1500))
		assert.GreaterOrEqual(t, r.Z, int32(-1000))
		assert.Equal(t, uint8(i), r.Reflectivity)
	}
}
