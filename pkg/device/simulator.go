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
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
)

// Behavior answers one command. Returning reply=false drops the request
// as if the datagram was lost.
type Behavior func(req *layers.ControlFrame) (ack layers.Payload, reply bool)

// Simulator emulates a Livox device: it answers control commands,
// announces itself with broadcasts and streams point cloud datagrams.
type Simulator struct {
	BroadcastCode string
	DeviceType    layers.DeviceType

	conn *net.UDPConn

	mu        sync.Mutex
	behaviors map[layers.CommandKey]Behavior
	received  map[layers.CommandKey]int
	host      *net.UDPAddr
	dataAddr  *net.UDPAddr
	sampling  bool
	status    layers.StatusCode
	extrinsic layers.Extrinsic
	version   [4]byte
}

func NewSimulator(ip string, port int, broadcastCode string) (*Simulator, error) {
	uaddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", uaddr)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		BroadcastCode: broadcastCode,
		DeviceType:    layers.DeviceTypeHorizon,
		conn:          conn,
		behaviors:     make(map[layers.CommandKey]Behavior),
		received:      make(map[layers.CommandKey]int),
		version:       [4]byte{6, 4, 0, 0},
	}, nil
}

// Addr is where the simulator accepts commands
func (d *Simulator) Addr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// Handle overrides the default answer to a command
func (d *Simulator) Handle(key layers.CommandKey, b Behavior) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b == nil {
		delete(d.behaviors, key)
		return
	}
	d.behaviors[key] = b
}

// Received returns how many requests of a command arrived
func (d *Simulator) Received(key layers.CommandKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received[key]
}

func (d *Simulator) Sampling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampling
}

// DataAddr returns the point cloud destination announced in the last handshake
func (d *Simulator) DataAddr() *net.UDPAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataAddr
}

func (d *Simulator) SetStatus(status layers.StatusCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

// Run answers commands until the context is done
func (d *Simulator) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.conn.Close()
	}()

	buffer := make([]byte, layers.ControlMaxFrameSize)
	for {
		length, from, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		req, err := layers.DecodeControlFrame(append([]byte(nil), buffer[:length]...))
		if err != nil {
			log.Debug("Simulator drops datagram from %s: %s", from, err)
			continue
		}
		if req.Type != layers.FrameTypeCmd {
			continue
		}
		if err := d.respond(req, from); err != nil {
			log.Warning("Simulator can not answer %s: %s", req, err)
		}
	}
}

func (d *Simulator) respond(req *layers.ControlFrame, from *net.UDPAddr) error {
	d.mu.Lock()
	d.received[req.Key]++
	behavior, ok := d.behaviors[req.Key]
	d.mu.Unlock()

	var ack layers.Payload
	if ok {
		var reply bool
		if ack, reply = behavior(req); !reply {
			return nil
		}
	} else {
		ack = d.defaultAck(req, from)
	}

	schema, err := layers.LookupSchema(req.Key, layers.FrameTypeAck)
	if err != nil {
		return err
	}
	if ack.Schema() == nil {
		ack = schema.New()
	}
	data, err := layers.EncodeControlFrame(&layers.ControlFrame{
		Version: layers.ProtocolVersion,
		Type:    layers.FrameTypeAck,
		Seq:     req.Seq,
		Key:     req.Key,
		Payload: ack,
	})
	if err != nil {
		return err
	}
	return d.SendRaw(from, data)
}

func (d *Simulator) defaultAck(req *layers.ControlFrame, from *net.UDPAddr) layers.Payload {
	schema, _ := layers.LookupSchema(req.Key, layers.FrameTypeAck)
	if schema == nil {
		return layers.Payload{}
	}
	ack := schema.New()

	d.mu.Lock()
	defer d.mu.Unlock()
	switch req.Key {
	case layers.CmdHandshake:
		d.host = from
		d.dataAddr = &net.UDPAddr{
			IP:   net.IP(req.Payload.Raw(layers.FieldUserIP)),
			Port: int(req.Payload.Uint16(layers.FieldDataPort)),
		}
	case layers.CmdHeartbeat:
		ack.SetUint8(layers.FieldWorkState, uint8(layers.WorkStateNormal)).
			SetUint32(layers.FieldAckMsg, uint32(d.status))
	case layers.CmdSampling:
		d.sampling = req.Payload.Uint8(layers.FieldSampleCtrl) == 1
	case layers.CmdQueryDeviceInfo:
		ack.SetRaw(layers.FieldVersion, d.version[:])
	case layers.CmdWriteExtrinsic:
		d.extrinsic = layers.ExtrinsicFromPayload(req.Payload)
	case layers.CmdReadExtrinsic:
		ack = schema.New().
			SetFloat32(layers.FieldRoll, d.extrinsic.Roll).
			SetFloat32(layers.FieldPitch, d.extrinsic.Pitch).
			SetFloat32(layers.FieldYaw, d.extrinsic.Yaw).
			SetInt32(layers.FieldX, d.extrinsic.X).
			SetInt32(layers.FieldY, d.extrinsic.Y).
			SetInt32(layers.FieldZ, d.extrinsic.Z)
	case layers.CmdDisconnect:
		d.host = nil
		d.sampling = false
	}
	return ack
}

func (d *Simulator) SendRaw(to *net.UDPAddr, data []byte) error {
	_, err := d.conn.WriteToUDP(data, to)
	return err
}

func (d *Simulator) sendMsg(to *net.UDPAddr, key layers.CommandKey, payload layers.Payload) error {
	data, err := layers.EncodeControlFrame(&layers.ControlFrame{
		Version: layers.ProtocolVersion,
		Type:    layers.FrameTypeMsg,
		Key:     key,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return d.SendRaw(to, data)
}

// Broadcast announces the device to a discovery listener
func (d *Simulator) Broadcast(to *net.UDPAddr) error {
	return d.sendMsg(to, layers.CmdBroadcast, layers.BroadcastPayload(d.BroadcastCode, d.DeviceType))
}

// PushStatus sends an abnormal status message to the connected host
func (d *Simulator) PushStatus(status layers.StatusCode) error {
	d.mu.Lock()
	host := d.host
	d.status = status
	d.mu.Unlock()
	if host == nil {
		return errors.New("simulator is not connected")
	}
	schema, err := layers.LookupSchema(layers.CmdAbnormalStatus, layers.FrameTypeMsg)
	if err != nil {
		return err
	}
	payload := schema.New().SetUint32(layers.FieldStatusCode, uint32(status))
	return d.sendMsg(host, layers.CmdAbnormalStatus, payload)
}

// SendPoints sends one type 2 datagram to the announced data address
func (d *Simulator) SendPoints(h layers.PointCloudHeader, records []layers.PointRecord) error {
	to := d.DataAddr()
	if to == nil {
		return errors.New("no data address, handshake first")
	}
	data, err := layers.EncodePointCloudFrame(h, records)
	if err != nil {
		return err
	}
	return d.SendRaw(to, data)
}

// Announce broadcasts every interval until a host connects
func (d *Simulator) Announce(ctx context.Context, to *net.UDPAddr, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		connected := d.host != nil
		d.mu.Unlock()
		if !connected {
			if err := d.Broadcast(to); err != nil {
				log.Debug("Simulator broadcast failed: %s", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stream sends a synthetic scan every interval while sampling is on
func (d *Simulator) Stream(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for frame := 0; ; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !d.Sampling() {
			continue
		}
		d.mu.Lock()
		status := d.status
		d.mu.Unlock()
		h := layers.PointCloudHeader{
			Version:   5,
			LidarID:   1,
			Status:    status,
			DataType:  layers.DataTypeCartesian,
			Timestamp: uint64(time.Now().UnixNano()),
		}
		if err := d.SendPoints(h, SyntheticScan(frame)); err != nil {
			log.Debug("Simulator stream: %s", err)
		}
		frame++
	}
}

// SyntheticScan returns one datagram worth of points on a wall 5 m ahead
func SyntheticScan(frame int) []layers.PointRecord {
	records := make([]layers.PointRecord, layers.PointsPerFrame)
	phase := float64(frame%360) * math.Pi / 180
	for i := range records {
		a := phase + float64(i)*2*math.Pi/layers.PointsPerFrame
		records[i] = layers.PointRecord{
			X:            5000,
			Y:            int32(1500 * math.Cos(a)),
			Z:            int32(1000 * math.Sin(a)),
			Reflectivity: uint8(i),
		}
	}
	return records
}
