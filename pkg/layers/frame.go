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

package layers

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
)

// ControlFrame is a decoded control protocol frame
type ControlFrame struct {
	Version uint8
	Type    FrameType
	Seq     uint16
	Key     CommandKey
	Payload Payload
}

// NewCommandFrame builds a CMD frame. A zero payload is replaced with an
// empty request of the command.
func NewCommandFrame(key CommandKey, seq uint16, payload Payload) (*ControlFrame, error) {
	schema, err := LookupSchema(key, FrameTypeCmd)
	if err != nil {
		return nil, err
	}
	if payload.Schema() == nil {
		payload = schema.New()
	}
	return &ControlFrame{
		Version: ProtocolVersion,
		Type:    FrameTypeCmd,
		Seq:     seq,
		Key:     key,
		Payload: payload,
	}, nil
}

// RetCode returns the ret_code of an ACK, 0 means success
func (f *ControlFrame) RetCode() (uint8, error) {
	if f.Type != FrameTypeAck {
		return 0, errors.Errorf("%s frame has no ret code", f.Type)
	}
	return f.Payload.Uint8(FieldRetCode), nil
}

func (f *ControlFrame) String() string {
	return fmt.Sprintf("%s seq=%d %s %s", f.Type, f.Seq, f.Key, f.Payload)
}

// EncodeControlFrame serializes a frame, computing length and checksums
func EncodeControlFrame(f *ControlFrame) ([]byte, error) {
	schema, err := LookupSchema(f.Key, f.Type)
	if err != nil {
		return nil, err
	}
	if f.Payload.Len() != schema.Size() {
		return nil, errors.Wrapf(ErrMalformedFrame, "%s payload is %d bytes, expected %d",
			schema.Name, f.Payload.Len(), schema.Size())
	}

	cl := &ControlLayer{
		ControlHeader: ControlHeader{
			SOF:     ControlSOF,
			Version: f.Version,
			Type:    f.Type,
			Seq:     f.Seq,
		},
	}
	cmd := &CommandLayer{
		Type: f.Type,
		Key:  f.Key,
		Body: f.Payload,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, cl, cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeControlFrame parses and validates a control frame
func DecodeControlFrame(data []byte) (*ControlFrame, error) {
	return ControlFrameFromPacket(gopacket.NewPacket(data, ControlLayerType, gopacket.NoCopy))
}

// ControlFrameFromPacket extracts the frame of a packet decoded from ControlLayerType
func ControlFrameFromPacket(packet gopacket.Packet) (*ControlFrame, error) {
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, errLayer.Error()
	}
	cl, ok := packet.Layer(ControlLayerType).(*ControlLayer)
	if !ok {
		return nil, errors.Wrap(ErrMalformedFrame, "no control layer")
	}
	cmd, ok := packet.Layer(CommandLayerType).(*CommandLayer)
	if !ok {
		return nil, errors.Wrap(ErrMalformedFrame, "no command layer")
	}
	return &ControlFrame{
		Version: cl.Version,
		Type:    cl.Type,
		Seq:     cl.Seq,
		Key:     cmd.Key,
		Payload: cmd.Body,
	}, nil
}

func mustSchema(key CommandKey, t FrameType) *Schema {
	schema, err := LookupSchema(key, t)
	if err != nil {
		panic(err)
	}
	return schema
}

// HandshakeRequest tells the device where to send data and acks
func HandshakeRequest(hostIP net.IP, dataPort, cmdPort, imuPort uint16) Payload {
	return mustSchema(CmdHandshake, FrameTypeCmd).New().
		SetRaw(FieldUserIP, hostIP.To4()).
		SetUint16(FieldDataPort, dataPort).
		SetUint16(FieldCmdPort, cmdPort).
		SetUint16(FieldIMUPort, imuPort)
}

func SamplingRequest(start bool) Payload {
	var ctrl uint8
	if start {
		ctrl = 1
	}
	return mustSchema(CmdSampling, FrameTypeCmd).New().SetUint8(FieldSampleCtrl, ctrl)
}

type CoordinateSystem uint8

const (
	CoordinateCartesian CoordinateSystem = 0
	CoordinateSpherical CoordinateSystem = 1
)

func CoordinateRequest(c CoordinateSystem) Payload {
	return mustSchema(CmdChangeCoordinate, FrameTypeCmd).New().SetUint8(FieldCoordinate, uint8(c))
}

// Extrinsic is the mounting pose stored on the device, angles in degrees
// and offsets in millimeters
type Extrinsic struct {
	Roll  float32 `json:"roll"`
	Pitch float32 `json:"pitch"`
	Yaw   float32 `json:"yaw"`
	X     int32   `json:"x"`
	Y     int32   `json:"y"`
	Z     int32   `json:"z"`
}

func ExtrinsicRequest(e Extrinsic) Payload {
	return mustSchema(CmdWriteExtrinsic, FrameTypeCmd).New().
		SetFloat32(FieldRoll, e.Roll).
		SetFloat32(FieldPitch, e.Pitch).
		SetFloat32(FieldYaw, e.Yaw).
		SetInt32(FieldX, e.X).
		SetInt32(FieldY, e.Y).
		SetInt32(FieldZ, e.Z)
}

// ExtrinsicFromPayload reads a ReadExtrinsic ACK or a WriteExtrinsic request
func ExtrinsicFromPayload(p Payload) Extrinsic {
	return Extrinsic{
		Roll:  p.Float32(FieldRoll),
		Pitch: p.Float32(FieldPitch),
		Yaw:   p.Float32(FieldYaw),
		X:     p.Int32(FieldX),
		Y:     p.Int32(FieldY),
		Z:     p.Int32(FieldZ),
	}
}

// FirmwareVersion formats the version of a QueryDeviceInfo ACK
func FirmwareVersion(p Payload) string {
	v := p.Raw(FieldVersion)
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}
