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
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/srv"
	"github.com/shirok1/go-livox/pkg/transform"
)

// Gate tells the data path whether datagrams should be decoded
type Gate interface {
	Streaming() bool
	SessionID() uuid.UUID
}

type Stats struct {
	Datagrams    uint64 `json:"datagrams"`
	Ignored      uint64 `json:"ignored"`
	DecodeErrors uint64 `json:"decodeErrors"`
	Unsupported  uint64 `json:"unsupported"`
	Frames       uint64 `json:"frames"`
	Dropped      uint64 `json:"dropped"`
	Overrun      uint64 `json:"overrun"`
	Points       uint64 `json:"points"`
	Projected    uint64 `json:"projected"`
}

type counters struct {
	datagrams    atomic.Uint64
	ignored      atomic.Uint64
	decodeErrors atomic.Uint64
	unsupported  atomic.Uint64
	frames       atomic.Uint64
	dropped      atomic.Uint64
	overrun      atomic.Uint64
	points       atomic.Uint64
	projected    atomic.Uint64
}

// PointCloudServer receives point datagrams, projects them and hands the
// frames out on a bounded channel. A slow consumer loses frames, it never
// blocks the socket.
type PointCloudServer struct {
	srv.Server
	cancel      context.CancelFunc
	conn        *net.UDPConn
	gate        Gate
	transformer *transform.Transformer
	raw         bool
	frames      chan *transform.ProjectedFrame

	// decoding state, owned by the goroutine calling HandleDatagram
	layer   layers.PointCloudLayer
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	mu         sync.Mutex
	started    bool
	closed     bool
	closeOnce  sync.Once
	framesOnce sync.Once
	stats      counters
}

func NewPointCloudServer(ctx context.Context, cfg *config.Config, gate Gate, transformer *transform.Transformer) (*PointCloudServer, error) {
	log.Debug("Initializing point cloud server with address: %s port: %d", cfg.HostIP, cfg.PointCloud.Port)

	conn, err := srv.Listen(cfg.HostIP, cfg.PointCloud.Port, cfg.PointCloud.ReadBuffer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &PointCloudServer{
		Server: srv.Server{
			Context: ctx,
			Config:  cfg,
			UDPAddr: conn.LocalAddr().(*net.UDPAddr),
			ChIn:    make(chan srv.InPacket, cfg.PointCloud.FrameBuffer),
		},
		cancel:      cancel,
		conn:        conn,
		gate:        gate,
		transformer: transformer,
		raw:         cfg.Publish.Raw,
		frames:      make(chan *transform.ProjectedFrame, cfg.PointCloud.FrameBuffer),
	}
	s.OnDrop = func() { s.stats.overrun.Add(1) }
	s.parser = gopacket.NewDecodingLayerParser(layers.PointCloudLayerType, &s.layer)
	s.parser.IgnoreUnsupported = true
	return s, nil
}

// Frames is closed when Run returns, or by Close if Run never started
func (s *PointCloudServer) Frames() <-chan *transform.ProjectedFrame {
	return s.frames
}

func (s *PointCloudServer) LocalAddr() *net.UDPAddr {
	return s.UDPAddr
}

func (s *PointCloudServer) Run() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.closeFrames()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	defer s.closeFrames()
	defer s.Close()

	errChan := make(chan error, 1)

	// Read UDP packets from wire and put them to input queue
	go s.Capture(s.conn, errChan)

	// Decode queued datagrams until the context is done
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			data, _, err := s.ReadPacketData()
			if err != nil {
				return
			}
			if err := s.HandleDatagram(data); err != nil {
				log.Debug("Drop point datagram: %s", err)
			}
		}
	}()

	var err error
	select {
	case <-s.Context.Done():
	case err = <-errChan:
		s.cancel()
	}
	<-done
	return err
}

func (s *PointCloudServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		s.mu.Unlock()

		s.cancel()
		err = s.conn.Close()
		if !started {
			s.closeFrames()
		}
	})
	return err
}

func (s *PointCloudServer) closeFrames() {
	s.framesOnce.Do(func() { close(s.frames) })
}

// HandleDatagram decodes and projects one datagram. It must not be called
// concurrently.
func (s *PointCloudServer) HandleDatagram(data []byte) error {
	s.stats.datagrams.Add(1)
	if !s.gate.Streaming() {
		s.stats.ignored.Add(1)
		return nil
	}

	if err := s.parser.DecodeLayers(data, &s.decoded); err != nil {
		if errors.Is(err, layers.ErrUnsupportedPointFormat) {
			s.stats.unsupported.Add(1)
		} else {
			s.stats.decodeErrors.Add(1)
		}
		return err
	}

	it := s.layer.Points()
	records := make([]layers.PointRecord, 0, it.Remaining())
	for r, ok := it.Next(); ok; r, ok = it.Next() {
		records = append(records, r)
	}

	frame := &transform.ProjectedFrame{
		SessionID: s.gate.SessionID(),
		LidarID:   s.layer.LidarID,
		Timestamp: s.layer.Timestamp,
		Points:    s.transformer.ProjectFrame(records),
	}
	if s.raw {
		frame.Raw = records
	}
	s.stats.points.Add(uint64(len(records)))
	s.stats.projected.Add(uint64(len(frame.Points)))

	select {
	case s.frames <- frame:
		s.stats.frames.Add(1)
	default:
		s.stats.dropped.Add(1)
	}
	return nil
}

func (s *PointCloudServer) Stats() Stats {
	return Stats{
		Datagrams:    s.stats.datagrams.Load(),
		Ignored:      s.stats.ignored.Load(),
		DecodeErrors: s.stats.decodeErrors.Load(),
		Unsupported:  s.stats.unsupported.Load(),
		Frames:       s.stats.frames.Load(),
		Dropped:      s.stats.dropped.Load(),
		Overrun:      s.stats.overrun.Load(),
		Points:       s.stats.points.Load(),
		Projected:    s.stats.projected.Load(),
	}
}
