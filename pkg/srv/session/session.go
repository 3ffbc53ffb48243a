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
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/srv/control"
	"github.com/shirok1/go-livox/pkg/srv/control/ifc"
	"github.com/shirok1/go-livox/pkg/srv/pointcloud"
	"github.com/shirok1/go-livox/pkg/transform"
)

const stateChangeBuffer = 16

// DeviceLocator finds a device that announced itself by broadcast
type DeviceLocator interface {
	WaitForDevice(ctx context.Context, broadcastCode string) (*layers.DeviceDescription, error)
}

type Stats struct {
	Control    ifc.CommandStats `json:"control"`
	PointCloud pointcloud.Stats `json:"pointCloud"`
}

// Manager owns the connection to one device. A single goroutine owns the
// session state and the sequence counter, everything else goes through
// call. The data path only reads the atomic state snapshot.
type Manager struct {
	ctx     context.Context
	cfg     *config.Config
	ctrl    ifc.ControlServer
	pc      *pointcloud.PointCloudServer
	locator DeviceLocator

	calls   chan func(s *session)
	done    chan struct{}
	changes chan StateChange

	state     atomic.Int32
	sessionID atomic.Value
}

var _ ifc.SequenceSource = &Manager{}
var _ pointcloud.Gate = &Manager{}
var _ Commander = &Manager{}

// NewManager binds the control and data sockets. The locator is used when
// no device IP is configured, it may be nil otherwise.
func NewManager(ctx context.Context, cfg *config.Config, locator DeviceLocator) (*Manager, error) {
	transformer, err := transform.NewTransformer(transform.CalibrationFromConfig(cfg.Calibration))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		ctx:     ctx,
		cfg:     cfg,
		locator: locator,
		calls:   make(chan func(s *session)),
		done:    make(chan struct{}),
		changes: make(chan StateChange, stateChangeBuffer),
	}
	m.sessionID.Store(uuid.Nil)

	ctrl, err := control.NewControlServer(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	pc, err := pointcloud.NewPointCloudServer(ctx, cfg, m, transformer)
	if err != nil {
		ctrl.Close()
		return nil, err
	}
	ctrl.OnMessage(m.handleMessage)
	m.ctrl = ctrl
	m.pc = pc

	go m.loop(&session{state: StateIdle})
	return m, nil
}

func (m *Manager) loop(s *session) {
	defer close(m.done)
	for {
		select {
		case fn := <-m.calls:
			fn(s)
		case <-m.ctx.Done():
			m.stopHeartbeat(s)
			s.sampling = false
			m.setState(s, StateClosed, "context done")
			return
		}
	}
}

// call runs fn on the manager goroutine and waits for it
func (m *Manager) call(fn func(s *session)) error {
	done := make(chan struct{})
	select {
	case m.calls <- func(s *session) {
		defer close(done)
		fn(s)
	}:
	case <-m.done:
		return ErrManagerStopped
	}
	<-done
	return nil
}

// Run serves the control and data sockets until the context is done or
// Shutdown is called
func (m *Manager) Run() error {
	errChan := make(chan error, 2)
	go func() { errChan <- m.ctrl.Run() }()
	go func() { errChan <- m.pc.Run() }()

	var err error
	for i := 0; i < 2; i++ {
		if runErr := <-errChan; runErr != nil && err == nil {
			err = runErr
			m.ctrl.Close()
			m.pc.Close()
		}
	}
	return err
}

func (m *Manager) setState(s *session, to State, reason string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	m.state.Store(int32(to))
	log.Info("Session %s: %s -> %s: %s", s.id, from, to, reason)

	select {
	case m.changes <- StateChange{From: from, To: to, Reason: reason, Time: time.Now()}:
	default:
		log.Debug("Nobody reads state changes, drop %s -> %s", from, to)
	}
}

func (m *Manager) startHeartbeat(s *session) {
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	s.heartbeatCancel = cancel
	s.heartbeatDone = done

	scheduler := NewHeartbeatScheduler(m.cfg.Control.HeartbeatInterval.Duration, m,
		&sessionObserver{manager: m, id: s.id})
	go func() {
		defer close(done)
		scheduler.Run(ctx)
	}()
}

func (m *Manager) stopHeartbeat(s *session) {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		s.heartbeatCancel = nil
		s.heartbeatDone = nil
	}
}

func (m *Manager) disconnect(s *session, reason string) {
	m.stopHeartbeat(s)
	s.sampling = false
	m.setState(s, StateDisconnected, reason)
}

// NextSeq hands out the sequence number of the next command
func (m *Manager) NextSeq(context.Context) (uint16, error) {
	var seq uint16
	if err := m.call(func(s *session) {
		seq = s.seq
		s.seq++
	}); err != nil {
		return 0, err
	}
	return seq, nil
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Streaming tells the data path to decode datagrams
func (m *Manager) Streaming() bool {
	return m.State().Connected()
}

func (m *Manager) SessionID() uuid.UUID {
	return m.sessionID.Load().(uuid.UUID)
}

func (m *Manager) StateChanges() <-chan StateChange {
	return m.changes
}

// Frames is closed when the data path stops
func (m *Manager) Frames() <-chan *transform.ProjectedFrame {
	return m.pc.Frames()
}

func (m *Manager) Session() (Session, error) {
	var snap Session
	err := m.call(func(s *session) {
		snap = s.snapshot(m.cfg.Control.HeartbeatInterval.Duration)
	})
	return snap, err
}

func (m *Manager) Stats() Stats {
	return Stats{
		Control:    m.ctrl.Stats(),
		PointCloud: m.pc.Stats(),
	}
}

// handshakeError keeps the cause matchable next to ErrHandshakeFailed
type handshakeError struct {
	cause error
}

func (e handshakeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHandshakeFailed, e.cause)
}

func (e handshakeError) Unwrap() error {
	return e.cause
}

func (e handshakeError) Is(target error) bool {
	return target == ErrHandshakeFailed
}

func expectOK(ack *layers.ControlFrame) error {
	ret, err := ack.RetCode()
	if err != nil {
		return err
	}
	if ret != 0 {
		return errors.Wrapf(ErrCommandRejected, "%s ret code %d", ack.Key, ret)
	}
	return nil
}

func (m *Manager) locate(ctx context.Context) (*net.UDPAddr, string, error) {
	device := m.cfg.Device
	if device.IP != "" {
		return &net.UDPAddr{IP: net.ParseIP(device.IP), Port: device.CmdPort}, device.BroadcastCode, nil
	}
	if m.locator == nil {
		return nil, "", ErrNoDeviceLocator
	}
	log.Info("Waiting for broadcast from device %q", device.BroadcastCode)
	dd, err := m.locator.WaitForDevice(ctx, device.BroadcastCode)
	if err != nil {
		return nil, "", err
	}
	return dd.CmdAddr(), dd.BroadcastCode, nil
}

func (m *Manager) handshake(ctx context.Context) (*net.UDPAddr, string, error) {
	addr, code, err := m.locate(ctx)
	if err != nil {
		return nil, "", handshakeError{cause: err}
	}
	m.ctrl.SetPeer(addr)

	payload := layers.HandshakeRequest(m.cfg.HostAddr(),
		uint16(m.pc.LocalAddr().Port), uint16(m.ctrl.LocalAddr().Port), 0)
	ack, err := m.ctrl.Send(ctx, layers.CmdHandshake, payload,
		m.cfg.Control.Timeout.Duration, m.cfg.Control.MaxRetries)
	if err == nil {
		err = expectOK(ack)
	}
	if err != nil {
		return nil, "", handshakeError{cause: err}
	}
	return addr, code, nil
}

// Connect opens a session: Idle or Disconnected -> Handshaking -> Active.
// On failure the session goes back to Idle.
func (m *Manager) Connect(ctx context.Context) error {
	var err error
	if callErr := m.call(func(s *session) {
		if s.state != StateIdle && s.state != StateDisconnected {
			err = ErrSessionState{Op: "connect", State: s.state}
			return
		}
		*s = session{id: uuid.New(), state: s.state}
		m.sessionID.Store(s.id)
		m.setState(s, StateHandshaking, "connect")
	}); callErr != nil {
		return callErr
	}
	if err != nil {
		return err
	}

	addr, code, err := m.handshake(ctx)
	if err != nil {
		m.call(func(s *session) {
			if s.state == StateHandshaking {
				m.setState(s, StateIdle, err.Error())
			}
		})
		return err
	}

	if callErr := m.call(func(s *session) {
		if s.state != StateHandshaking {
			err = ErrSessionState{Op: "connect", State: s.state}
			return
		}
		s.device = addr
		s.broadcastCode = code
		s.lastHeartbeatAck = time.Now()
		m.setState(s, StateActive, fmt.Sprintf("handshake with %s acknowledged", addr))
		m.startHeartbeat(s)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Shutdown closes the session for good. It stops the heartbeat, tells the
// device to disconnect, cancels pending commands and stops the data path.
func (m *Manager) Shutdown(ctx context.Context) error {
	var connected, closed bool
	var heartbeatDone chan struct{}
	if err := m.call(func(s *session) {
		if s.state == StateClosed {
			closed = true
			return
		}
		connected = s.state.Connected()
		heartbeatDone = s.heartbeatDone
		m.stopHeartbeat(s)
		s.sampling = false
		m.setState(s, StateClosed, "shutdown")
	}); err != nil {
		// the loop already exited with its context, only the sockets remain
		m.state.Store(int32(StateClosed))
		m.ctrl.Close()
		m.pc.Close()
		return nil
	}
	if closed {
		return nil
	}

	if heartbeatDone != nil {
		select {
		case <-heartbeatDone:
		case <-ctx.Done():
		}
	}
	if connected {
		if _, err := m.ctrl.Send(ctx, layers.CmdDisconnect, layers.Payload{},
			m.cfg.Control.Timeout.Duration, 0); err != nil {
			log.Warning("Disconnect was not acknowledged: %s", err)
		}
	}
	m.ctrl.Close()
	m.pc.Close()
	return nil
}

// command sends a command of an open session and checks the ret code
func (m *Manager) command(ctx context.Context, op string, key layers.CommandKey, payload layers.Payload) (*layers.ControlFrame, error) {
	if state := m.State(); !state.Connected() {
		return nil, ErrSessionState{Op: op, State: state}
	}
	ack, err := m.ctrl.Send(ctx, key, payload, m.cfg.Control.Timeout.Duration, m.cfg.Control.MaxRetries)
	if err != nil {
		return nil, err
	}
	if err := expectOK(ack); err != nil {
		return nil, err
	}
	return ack, nil
}

func (m *Manager) sample(ctx context.Context, op string, start bool) error {
	if _, err := m.command(ctx, op, layers.CmdSampling, layers.SamplingRequest(start)); err != nil {
		return err
	}
	return m.call(func(s *session) {
		s.sampling = start
	})
}

func (m *Manager) StartSampling(ctx context.Context) error {
	return m.sample(ctx, "start sampling", true)
}

func (m *Manager) StopSampling(ctx context.Context) error {
	return m.sample(ctx, "stop sampling", false)
}

// DeviceInfo returns the firmware version
func (m *Manager) DeviceInfo(ctx context.Context) (string, error) {
	ack, err := m.command(ctx, "query device info", layers.CmdQueryDeviceInfo, layers.Payload{})
	if err != nil {
		return "", err
	}
	return layers.FirmwareVersion(ack.Payload), nil
}

func (m *Manager) ReadExtrinsic(ctx context.Context) (layers.Extrinsic, error) {
	ack, err := m.command(ctx, "read extrinsic", layers.CmdReadExtrinsic, layers.Payload{})
	if err != nil {
		return layers.Extrinsic{}, err
	}
	return layers.ExtrinsicFromPayload(ack.Payload), nil
}

func (m *Manager) WriteExtrinsic(ctx context.Context, e layers.Extrinsic) error {
	_, err := m.command(ctx, "write extrinsic", layers.CmdWriteExtrinsic, layers.ExtrinsicRequest(e))
	return err
}

func (m *Manager) SetCoordinate(ctx context.Context, c layers.CoordinateSystem) error {
	_, err := m.command(ctx, "change coordinate", layers.CmdChangeCoordinate, layers.CoordinateRequest(c))
	return err
}

// Send issues any implemented command on the open session
func (m *Manager) Send(ctx context.Context, key layers.CommandKey, payload layers.Payload) (*layers.ControlFrame, error) {
	return m.command(ctx, key.String(), key, payload)
}

// Heartbeat sends one heartbeat without retransmission
func (m *Manager) Heartbeat(ctx context.Context) (layers.HeartbeatStatus, error) {
	ack, err := m.ctrl.Send(ctx, layers.CmdHeartbeat, layers.Payload{}, m.cfg.Control.HeartbeatTimeout.Duration, 0)
	if err != nil {
		return layers.HeartbeatStatus{}, err
	}
	if err := expectOK(ack); err != nil {
		return layers.HeartbeatStatus{}, err
	}
	return layers.HeartbeatStatusFromPayload(ack.Payload), nil
}

func (m *Manager) handleMessage(frame *layers.ControlFrame) {
	switch frame.Key {
	case layers.CmdAbnormalStatus:
		status := layers.StatusCode(frame.Payload.Uint32(layers.FieldStatusCode))
		log.Warning("Device reports abnormal status: %s", status)
		m.call(func(s *session) {
			s.deviceStatus = status
			if status.IsError() && s.state.Connected() {
				m.disconnect(s, "device reports system error")
			}
		})
	default:
		log.Debug("Ignore %s", frame)
	}
}

// sessionObserver applies heartbeat outcomes to the session it was started
// for and ignores them once that session is gone
type sessionObserver struct {
	manager *Manager
	id      uuid.UUID
}

var _ HeartbeatObserver = &sessionObserver{}

func (o *sessionObserver) HeartbeatSucceeded(status layers.HeartbeatStatus) bool {
	m := o.manager
	next := false
	m.call(func(s *session) {
		if s.id != o.id || !s.state.Connected() {
			return
		}
		s.lastHeartbeatAck = time.Now()
		s.heartbeatFailures = 0
		s.workState = status.WorkState
		s.deviceStatus = status.Status
		if status.Status.IsError() {
			m.disconnect(s, "device reports system error")
			return
		}
		if s.state == StateDegraded {
			m.setState(s, StateActive, "heartbeat acknowledged")
		}
		next = true
	})
	return next
}

func (o *sessionObserver) HeartbeatFailed(err error) bool {
	m := o.manager
	next := false
	m.call(func(s *session) {
		if s.id != o.id || !s.state.Connected() {
			return
		}
		s.heartbeatFailures++
		reason := fmt.Sprintf("%d heartbeats failed, last: %s", s.heartbeatFailures, err)
		if s.heartbeatFailures >= m.cfg.Control.DisconnectThreshold {
			m.disconnect(s, reason)
			return
		}
		if s.heartbeatFailures >= m.cfg.Control.DegradedThreshold && s.state == StateActive {
			m.setState(s, StateDegraded, reason)
		}
		next = true
	})
	return next
}
