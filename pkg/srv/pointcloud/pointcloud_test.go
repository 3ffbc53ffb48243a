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

package pointcloud

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/device"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/transform"
)

type gate struct {
	streaming atomic.Bool
	id        uuid.UUID
}

func (g *gate) Streaming() bool      { return g.streaming.Load() }
func (g *gate) SessionID() uuid.UUID { return g.id }

var forwardLidar = [12]float64{
	0, -1, 0, 0,
	0, 0, -1, 0,
	1, 0, 0, 0,
}

func newServer(t *testing.T, frameBuffer int, raw bool) (*PointCloudServer, *gate) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.NewDefaultConfig()
	cfg.HostIP = "127.0.0.1"
	cfg.PointCloud.Port = 0
	cfg.PointCloud.FrameBuffer = frameBuffer
	cfg.Publish.Raw = raw
	cfg.Calibration.Extrinsic = forwardLidar

	tr, err := transform.NewTransformer(transform.CalibrationFromConfig(cfg.Calibration))
	require.NoError(t, err)
	g := &gate{id: uuid.New()}
	s, err := NewPointCloudServer(ctx, cfg, g, tr)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, g
}

func header(ts uint64) layers.PointCloudHeader {
	return layers.PointCloudHeader{
		Version:   5,
		LidarID:   1,
		DataType:  layers.DataTypeCartesian,
		Timestamp: ts,
	}
}

func datagram(t *testing.T, h layers.PointCloudHeader, records []layers.PointRecord) []byte {
	t.Helper()
	data, err := layers.EncodePointCloudFrame(h, records)
	require.NoError(t, err)
	return data
}

func TestIgnoredUntilStreaming(t *testing.T) {
	s, _ := newServer(t, 4, false)
	require.NoError(t, s.HandleDatagram(datagram(t, header(1), []layers.PointRecord{{X: 5000}})))
	assert.Empty(t, s.Frames())
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Datagrams)
	assert.Equal(t, uint64(1), stats.Ignored)
}

func TestHandleDatagram(t *testing.T) {
	s, g := newServer(t, 4, true)
	g.streaming.Store(true)

	records := []layers.PointRecord{
		{X: 5000, Reflectivity: 10, Tag: 0x10},
		{X: -5000, Reflectivity: 20},
		{X: 5000, Y: -2500, Z: -1000, Reflectivity: 30},
	}
	require.NoError(t, s.HandleDatagram(datagram(t, header(42), records)))

	frame := <-s.Frames()
	assert.Equal(t, g.id, frame.SessionID)
	assert.Equal(t, uint8(1), frame.LidarID)
	assert.Equal(t, uint64(42), frame.Timestamp)
	require.Len(t, frame.Points, 2)
	assert.Equal(t, transform.ProjectedPoint{Row: 1009, Col: 1536, Depth: 5, Reflectivity: 10, Tag: 0x10}, frame.Points[0])
	assert.Equal(t, uint8(30), frame.Points[1].Reflectivity)
	assert.Greater(t, frame.Points[1].Col, 1536)
	assert.Greater(t, frame.Points[1].Row, 1009)
	require.Len(t, frame.Raw, 3)
	assert.Equal(t, int32(-5000), frame.Raw[1].X)
	assert.Equal(t, uint64(42), frame.Raw[2].Timestamp)

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Points)
	assert.Equal(t, uint64(2), stats.Projected)
	assert.Equal(t, uint64(1), stats.Frames)
}

func TestBadDatagrams(t *testing.T) {
	s, g := newServer(t, 4, false)
	g.streaming.Store(true)

	h := header(1)
	h.DataType = 0
	err := s.HandleDatagram(datagram(t, h, nil))
	assert.ErrorIs(t, err, layers.ErrUnsupportedPointFormat)

	data := datagram(t, header(1), []layers.PointRecord{{X: 1}, {X: 2}})
	err = s.HandleDatagram(data[:len(data)-3])
	assert.ErrorIs(t, err, layers.ErrMalformedFrame)

	err = s.HandleDatagram([]byte{5, 1})
	assert.ErrorIs(t, err, layers.ErrMalformedFrame)

	assert.Empty(t, s.Frames())
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Unsupported)
	assert.Equal(t, uint64(2), stats.DecodeErrors)

	require.NoError(t, s.HandleDatagram(datagram(t, header(2), []layers.PointRecord{{X: 5000}})))
	assert.Len(t, s.Frames(), 1)
}

func TestSlowConsumerDropsFrames(t *testing.T) {
	s, g := newServer(t, 1, false)
	g.streaming.Store(true)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.HandleDatagram(datagram(t, header(uint64(i)), []layers.PointRecord{{X: 5000}})))
	}
	assert.Equal(t, uint64(0), (<-s.Frames()).Timestamp)
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestThousandDatagramsInOrder(t *testing.T) {
	s, g := newServer(t, 64, false)
	g.streaming.Store(true)

	const datagrams, perDatagram = 1000, 100
	got := make(chan []*transform.ProjectedFrame)
	go func() {
		var frames []*transform.ProjectedFrame
		for frame := range s.Frames() {
			frames = append(frames, frame)
			if len(frames) == datagrams {
				break
			}
		}
		got <- frames
	}()

	for i := 0; i < datagrams; i++ {
		records := make([]layers.PointRecord, perDatagram)
		for j := range records {
			records[j] = layers.PointRecord{X: 5000, Y: int32(j*10 - 500), Reflectivity: uint8(j)}
		}
		data := datagram(t, header(uint64(i)), records)
		for len(s.Frames()) == cap(s.frames) {
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, s.HandleDatagram(data))
	}

	frames := <-got
	require.Len(t, frames, datagrams)
	total := 0
	for i, frame := range frames {
		assert.Equal(t, uint64(i), frame.Timestamp)
		require.Len(t, frame.Points, perDatagram)
		for j, p := range frame.Points {
			assert.Equal(t, uint8(j), p.Reflectivity)
		}
		total += len(frame.Points)
	}
	assert.Equal(t, datagrams*perDatagram, total)
	assert.Zero(t, s.Stats().Dropped)
}

func TestRunOverUDP(t *testing.T) {
	s, g := newServer(t, 16, false)
	g.streaming.Store(true)

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sim, err := device.NewSimulator("127.0.0.1", 0, "3WEDH7600101621")
	require.NoError(t, err)
	go sim.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, sim.SendRaw(s.LocalAddr(), datagram(t, header(uint64(i)), device.SyntheticScan(i))))
	}
	for i := 0; i < 5; i++ {
		select {
		case frame := <-s.Frames():
			assert.Equal(t, uint64(i), frame.Timestamp)
			assert.NotEmpty(t, frame.Points)
		case <-time.After(time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}

	require.NoError(t, s.Close())
	require.NoError(t, <-runErr)
	_, open := <-s.Frames()
	assert.False(t, open)
}

func TestCaptureDropsWhenQueueFull(t *testing.T) {
	s, _ := newServer(t, 1, false)

	errChan := make(chan error, 1)
	captured := make(chan struct{})
	go func() {
		defer close(captured)
		s.Capture(s.conn, errChan)
	}()

	conn, err := net.DialUDP("udp4", nil, s.LocalAddr())
	require.NoError(t, err)
	defer conn.Close()
	data := datagram(t, header(1), device.SyntheticScan(0))
	for i := 0; i < 8; i++ {
		_, err := conn.Write(data)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return s.Stats().Overrun > 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, s.ChIn, 1)

	require.NoError(t, s.Close())
	select {
	case <-captured:
	case <-time.After(time.Second):
		t.Fatal("capture still running after close")
	}
}

func TestCloseWithoutRunClosesFrames(t *testing.T) {
	s, _ := newServer(t, 4, false)
	require.NoError(t, s.Close())

	select {
	case _, open := <-s.Frames():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("frames not closed")
	}
	assert.NoError(t, s.Run())
}
