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

package control

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/srv"
	"github.com/shirok1/go-livox/pkg/srv/control/ifc"
)

type pendingCommand struct {
	seq    uint16
	key    layers.CommandKey
	issued time.Time
	done   chan *layers.ControlFrame
}

type counters struct {
	sent          atomic.Uint64
	retransmitted atomic.Uint64
	acked         atomic.Uint64
	stale         atomic.Uint64
	timeouts      atomic.Uint64
	messages      atomic.Uint64
	decodeErrors  atomic.Uint64
}

// ControlServer exchanges control frames with one device. It matches ACKs
// to pending commands by sequence number and retransmits on timeout.
type ControlServer struct {
	srv.Server
	cancel context.CancelFunc
	conn   *net.UDPConn
	seq    ifc.SequenceSource

	mu        sync.Mutex
	peer      *net.UDPAddr
	pending   map[uint16]*pendingCommand
	onMessage func(frame *layers.ControlFrame)

	closeOnce sync.Once
	stats     counters
}

var _ ifc.ControlServer = &ControlServer{}

// NewControlServer binds the control socket right away so that the
// port can be announced in the handshake before Run is called.
func NewControlServer(ctx context.Context, cfg *config.Config, seq ifc.SequenceSource) (*ControlServer, error) {
	log.Debug("Initializing control server with address: %s port: %d", cfg.HostIP, cfg.Control.Port)

	conn, err := srv.Listen(cfg.HostIP, cfg.Control.Port, 0)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &ControlServer{
		Server: srv.Server{
			Context: ctx,
			Config:  cfg,
			UDPAddr: conn.LocalAddr().(*net.UDPAddr),
			ChIn:    make(chan srv.InPacket),
			ChOut:   make(chan srv.OutPacket),
		},
		cancel:  cancel,
		conn:    conn,
		seq:     seq,
		pending: make(map[uint16]*pendingCommand),
	}
	return s, nil
}

func (s *ControlServer) Run() error {
	defer s.Close()

	errChan := make(chan error, 2)

	// Read UDP packets from wire and put them to input queue
	go s.Capture(s.conn, errChan)

	// Read captured packets from input queue, parse them and resolve pending commands
	go func() {
		source := gopacket.NewPacketSource(s, layers.ControlLayerType)
		source.NoCopy = true
		for packet := range source.Packets() {
			s.handlePacket(packet)
		}
	}()

	// Read packets from output queue and send them to wire
	go func() {
		for {
			select {
			case <-s.Context.Done():
				return
			case outPacket := <-s.ChOut:
				if _, err := s.conn.WriteToUDP(outPacket.Data, outPacket.UDPAddr); err != nil {
					log.Error("Error while sending control frame to %s: %s", outPacket.UDPAddr, err)
					errChan <- err
					return
				}
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

// Close aborts pending commands with ErrCancelled and releases the socket
func (s *ControlServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

func (s *ControlServer) handlePacket(packet gopacket.Packet) {
	frame, err := layers.ControlFrameFromPacket(packet)
	if err != nil {
		s.stats.decodeErrors.Add(1)
		log.Debug("Drop control datagram: %s", err)
		return
	}
	switch frame.Type {
	case layers.FrameTypeAck:
		s.resolve(frame)
	case layers.FrameTypeMsg:
		s.stats.messages.Add(1)
		s.mu.Lock()
		handler := s.onMessage
		s.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	default:
		log.Debug("Ignore %s", frame)
	}
}

func (s *ControlServer) resolve(ack *layers.ControlFrame) {
	s.mu.Lock()
	pc, ok := s.pending[ack.Seq]
	if !ok || pc.key != ack.Key {
		s.mu.Unlock()
		s.stats.stale.Add(1)
		log.Debug("Drop stale %s", ack)
		return
	}
	delete(s.pending, ack.Seq)
	s.mu.Unlock()

	s.stats.acked.Add(1)
	log.Debug("%s acked in %s", pc.key, time.Since(pc.issued))
	pc.done <- ack
}

func (s *ControlServer) register(pc *pendingCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[pc.seq]; ok {
		return errors.Wrapf(ErrSequenceInUse, "seq %d", pc.seq)
	}
	s.pending[pc.seq] = pc
	return nil
}

func (s *ControlServer) unregister(pc *pendingCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[pc.seq] == pc {
		delete(s.pending, pc.seq)
	}
}

func (s *ControlServer) transmit(ctx context.Context, data []byte, peer *net.UDPAddr) error {
	select {
	case s.ChOut <- srv.OutPacket{Data: data, UDPAddr: peer}:
		s.stats.sent.Add(1)
		return nil
	case <-ctx.Done():
		return errors.Wrap(ErrCancelled, ctx.Err().Error())
	case <-s.Context.Done():
		return errors.Wrap(ErrCancelled, "control channel closed")
	}
}

func (s *ControlServer) Send(ctx context.Context, key layers.CommandKey, payload layers.Payload,
	timeout time.Duration, maxRetries int) (*layers.ControlFrame, error) {

	if _, err := layers.LookupSchema(key, layers.FrameTypeCmd); err != nil {
		return nil, err
	}
	peer := s.Peer()
	if peer == nil {
		return nil, ErrNoPeer
	}
	if s.Context.Err() != nil {
		return nil, errors.Wrap(ErrCancelled, "control channel closed")
	}

	seq, err := s.seq.NextSeq(ctx)
	if err != nil {
		return nil, err
	}
	frame, err := layers.NewCommandFrame(key, seq, payload)
	if err != nil {
		return nil, err
	}
	data, err := layers.EncodeControlFrame(frame)
	if err != nil {
		return nil, err
	}

	pc := &pendingCommand{
		seq:    seq,
		key:    key,
		issued: time.Now(),
		done:   make(chan *layers.ControlFrame, 1),
	}
	if err := s.register(pc); err != nil {
		return nil, err
	}
	defer s.unregister(pc)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		log.Debug("Send %s to %s (attempt %d)", frame, peer, attempt)
		if err := s.transmit(ctx, data, peer); err != nil {
			return nil, err
		}
		select {
		case ack := <-pc.done:
			return ack, nil
		case <-timer.C:
			if attempt > maxRetries {
				s.stats.timeouts.Add(1)
				return nil, errors.Wrapf(ErrCommandTimeout, "%s seq %d after %d attempts", key, seq, attempt)
			}
			s.stats.retransmitted.Add(1)
			timer.Reset(timeout)
		case <-ctx.Done():
			return nil, errors.Wrapf(ErrCancelled, "%s seq %d: %s", key, seq, ctx.Err())
		case <-s.Context.Done():
			return nil, errors.Wrapf(ErrCancelled, "%s seq %d: control channel closed", key, seq)
		}
	}
}

func (s *ControlServer) SetPeer(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = addr
}

func (s *ControlServer) Peer() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *ControlServer) LocalAddr() *net.UDPAddr {
	return s.UDPAddr
}

func (s *ControlServer) OnMessage(handler func(frame *layers.ControlFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = handler
}

func (s *ControlServer) Stats() ifc.CommandStats {
	return ifc.CommandStats{
		Sent:          s.stats.sent.Load(),
		Retransmitted: s.stats.retransmitted.Load(),
		Acked:         s.stats.acked.Load(),
		Stale:         s.stats.stale.Load(),
		Timeouts:      s.stats.timeouts.Load(),
		Messages:      s.stats.messages.Load(),
		DecodeErrors:  s.stats.decodeErrors.Load(),
	}
}
