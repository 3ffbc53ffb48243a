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
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/log"
)

func init() {
	initUnknownFrameTypes()
	initActualFrameTypes()
}

const (
	// ControlLayerNum identifies the layer
	ControlLayerNum = 2101
	// ControlSOF is the first byte of every control frame
	ControlSOF = 0xAA
	// ProtocolVersion is the only control protocol version
	ProtocolVersion = 1
	// ControlHeaderSize is SOF, version, length, type, seq and header CRC16
	ControlHeaderSize = 9
	// ControlTailSize is the frame CRC32
	ControlTailSize = 4
	// ControlMinFrameSize is a frame with a command set, a command id and no payload
	ControlMinFrameSize = ControlHeaderSize + CommandHeaderSize + ControlTailSize
	// ControlMaxFrameSize is the max size of a control frame the device accepts
	ControlMaxFrameSize = 1400
)

type FrameType uint8

const (
	FrameTypeCmd FrameType = 0
	FrameTypeAck FrameType = 1
	FrameTypeMsg FrameType = 2
)

type errorDecoderForFrameType int

func (e *errorDecoderForFrameType) Decode(data []byte, p gopacket.PacketBuilder) error {
	return errors.Wrapf(ErrMalformedFrame, "unknown frame type %d", int(*e))
}

func (e *errorDecoderForFrameType) Error() string {
	return fmt.Sprintf("Unable to decode frame type %d", int(*e))
}

var errorDecodersForFrameType [256]errorDecoderForFrameType
var FrameTypeMetadata [256]layers.EnumMetadata

func initUnknownFrameTypes() {
	for i := 0; i < 256; i++ {
		errorDecodersForFrameType[i] = errorDecoderForFrameType(i)
		FrameTypeMetadata[i] = layers.EnumMetadata{
			DecodeWith: &errorDecodersForFrameType[i],
			Name:       "UnknownFrameType",
		}
	}
}

func initActualFrameTypes() {
	FrameTypeMetadata[FrameTypeCmd] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeCommandFor(FrameTypeCmd)), Name: "CMD", LayerType: CommandLayerType}
	FrameTypeMetadata[FrameTypeAck] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeCommandFor(FrameTypeAck)), Name: "ACK", LayerType: CommandLayerType}
	FrameTypeMetadata[FrameTypeMsg] = layers.EnumMetadata{DecodeWith: gopacket.DecodeFunc(decodeCommandFor(FrameTypeMsg)), Name: "MSG", LayerType: CommandLayerType}
}

// LayerType returns FrameTypeMetadata.LayerType
func (t FrameType) LayerType() gopacket.LayerType {
	return FrameTypeMetadata[t].LayerType
}

// Decode calls FrameTypeMetadata.DecodeWith's decoder
func (t FrameType) Decode(data []byte, p gopacket.PacketBuilder) error {
	return FrameTypeMetadata[t].DecodeWith.Decode(data, p)
}

// String returns FrameTypeMetadata.Name
func (t FrameType) String() string {
	return FrameTypeMetadata[t].Name
}

type ControlHeader struct {
	SOF       uint8
	Version   uint8
	Length    uint16 // whole frame in bytes including the CRC32 tail
	Type      FrameType
	Seq       uint16
	HeaderCrc uint16 // CRC16 of the first 7 bytes
}

type ControlLayer struct {
	layers.BaseLayer
	ControlHeader
	Crc uint32
}

var ControlLayerType = gopacket.RegisterLayerType(ControlLayerNum,
	gopacket.LayerTypeMetadata{Name: "ControlLayerType", Decoder: gopacket.DecodeFunc(decodeControlLayer)})

func (cl *ControlLayer) LayerType() gopacket.LayerType {
	return ControlLayerType
}

// SerializeTo prepends the header and appends the CRC32 tail around the
// bytes already in the buffer. With FixLengths the length field is set
// from the buffer, with ComputeChecksums both checksums are calculated.
func (cl *ControlLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	payloadLen := len(b.Bytes())
	if opts.FixLengths {
		cl.Length = uint16(ControlHeaderSize + payloadLen + ControlTailSize)
	}
	header, err := b.PrependBytes(ControlHeaderSize)
	if err != nil {
		return err
	}
	header[0] = cl.SOF
	header[1] = cl.Version
	binary.LittleEndian.PutUint16(header[2:4], cl.Length)
	header[4] = uint8(cl.Type)
	binary.LittleEndian.PutUint16(header[5:7], cl.Seq)
	if opts.ComputeChecksums {
		cl.HeaderCrc = Checksum16(header[0:7])
	}
	binary.LittleEndian.PutUint16(header[7:9], cl.HeaderCrc)

	tail, err := b.AppendBytes(ControlTailSize)
	if err != nil {
		return err
	}
	if opts.ComputeChecksums {
		frame := b.Bytes()
		cl.Crc = Checksum32(frame[:len(frame)-ControlTailSize])
	}
	binary.LittleEndian.PutUint32(tail, cl.Crc)
	return nil
}

// DecodeFromBytes attempts to decode the byte slice as a control frame.
// The header CRC16 is checked before any header field is trusted and the
// frame CRC32 before the command bytes are.
func (cl *ControlLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < ControlMinFrameSize {
		df.SetTruncated()
		return errors.Wrapf(ErrMalformedFrame, "control frame too short: %d bytes", len(data))
	}

	headerCrc := binary.LittleEndian.Uint16(data[7:9])
	if sum := Checksum16(data[0:7]); sum != headerCrc {
		return errors.Wrapf(ErrChecksumMismatch, "header crc16 0x%04x, computed 0x%04x", headerCrc, sum)
	}
	if data[0] != ControlSOF {
		return errors.Wrapf(ErrMalformedFrame, "wrong SOF 0x%02x, must be 0x%02x", data[0], ControlSOF)
	}
	if data[1] != ProtocolVersion {
		return errors.Wrapf(ErrMalformedFrame, "unsupported protocol version %d", data[1])
	}
	length := binary.LittleEndian.Uint16(data[2:4])
	if int(length) != len(data) {
		return errors.Wrapf(ErrMalformedFrame, "declared length %d, got %d bytes", length, len(data))
	}
	crc := binary.LittleEndian.Uint32(data[len(data)-ControlTailSize:])
	if sum := Checksum32(data[:len(data)-ControlTailSize]); sum != crc {
		return errors.Wrapf(ErrChecksumMismatch, "frame crc32 0x%08x, computed 0x%08x", crc, sum)
	}

	cl.BaseLayer = layers.BaseLayer{
		Contents: data[0:ControlHeaderSize],
		Payload:  data[ControlHeaderSize : len(data)-ControlTailSize],
	}
	cl.SOF = data[0]
	cl.Version = data[1]
	cl.Length = length
	cl.Type = FrameType(data[4])
	cl.Seq = binary.LittleEndian.Uint16(data[5:7])
	cl.HeaderCrc = headerCrc
	cl.Crc = crc
	return nil
}

func (cl *ControlLayer) CanDecode() gopacket.LayerClass {
	return ControlLayerType
}

func (cl *ControlLayer) NextLayerType() gopacket.LayerType {
	return cl.Type.LayerType()
}

func decodeControlLayer(data []byte, p gopacket.PacketBuilder) error {
	cl := &ControlLayer{}
	err := cl.DecodeFromBytes(data, p)
	if err != nil {
		log.Debug("Error while decoding control layer: %s", err)
		return err
	}
	p.AddLayer(cl)
	return p.NextDecoder(cl.Type)
}
