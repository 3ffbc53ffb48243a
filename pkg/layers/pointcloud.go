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

	"github.com/golang/geo/r3"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

const (
	// PointCloudLayerNum identifies the layer
	PointCloudLayerNum = 2103
	// PointCloudHeaderSize is the data frame header in bytes
	PointCloudHeaderSize = 18
	// DataTypeCartesian is single-return cartesian, the only supported format
	DataTypeCartesian = 2
	// PointRecordSize is the size of a DataTypeCartesian record
	PointRecordSize = 14
	// PointsPerFrame is how many records a device normally puts in a datagram
	PointsPerFrame = 96
)

type PointCloudHeader struct {
	Version       uint8
	SlotID        uint8
	LidarID       uint8
	Reserved      uint8
	Status        StatusCode
	TimestampType uint8
	DataType      uint8
	Timestamp     uint64 // nanoseconds
}

// Tag holds the per-point confidence bits
type Tag uint8

// Spatial is the spatial position noise confidence, 0 is normal
func (t Tag) Spatial() uint8 { return uint8(t) & 0x03 }

// Intensity is the intensity noise confidence, 0 is normal
func (t Tag) Intensity() uint8 { return uint8(t) >> 2 & 0x03 }

// Return is the return number
func (t Tag) Return() uint8 { return uint8(t) >> 4 & 0x03 }

// PointRecord is one sample. Coordinates are millimeters in the sensor frame.
type PointRecord struct {
	X            int32  `json:"x"`
	Y            int32  `json:"y"`
	Z            int32  `json:"z"`
	Reflectivity uint8  `json:"reflectivity"`
	Tag          Tag    `json:"tag"`
	Timestamp    uint64 `json:"timestamp"`
}

// Vector returns the position in meters
func (p PointRecord) Vector() r3.Vector {
	return r3.Vector{X: float64(p.X) / 1000, Y: float64(p.Y) / 1000, Z: float64(p.Z) / 1000}
}

// PointIterator yields the records of one datagram once. It can not be rewound.
type PointIterator struct {
	data      []byte
	timestamp uint64
	off       int
}

// Next returns the next record, false once the datagram is exhausted
func (it *PointIterator) Next() (PointRecord, bool) {
	if it.off+PointRecordSize > len(it.data) {
		return PointRecord{}, false
	}
	b := it.data[it.off : it.off+PointRecordSize]
	it.off += PointRecordSize
	return PointRecord{
		X:            int32(binary.LittleEndian.Uint32(b[0:4])),
		Y:            int32(binary.LittleEndian.Uint32(b[4:8])),
		Z:            int32(binary.LittleEndian.Uint32(b[8:12])),
		Reflectivity: b[12],
		Tag:          Tag(b[13]),
		Timestamp:    it.timestamp,
	}, true
}

// Remaining returns how many records Next will still yield
func (it *PointIterator) Remaining() int {
	return (len(it.data) - it.off) / PointRecordSize
}

// PointCloudLayer is a data port datagram
type PointCloudLayer struct {
	layers.BaseLayer
	PointCloudHeader
}

var PointCloudLayerType = gopacket.RegisterLayerType(PointCloudLayerNum,
	gopacket.LayerTypeMetadata{Name: "PointCloudLayerType", Decoder: gopacket.DecodeFunc(decodePointCloudLayer)})

func (pc *PointCloudLayer) LayerType() gopacket.LayerType {
	return PointCloudLayerType
}

func (pc *PointCloudLayer) CanDecode() gopacket.LayerClass {
	return PointCloudLayerType
}

func (pc *PointCloudLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

// DecodeFromBytes decodes the header and checks the record area.
// Records are not parsed here, see Points.
func (pc *PointCloudLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	pc.BaseLayer = layers.BaseLayer{}
	if len(data) < PointCloudHeaderSize {
		df.SetTruncated()
		return errors.Wrapf(ErrMalformedFrame, "point cloud frame too short: %d bytes", len(data))
	}
	pc.Version = data[0]
	pc.SlotID = data[1]
	pc.LidarID = data[2]
	pc.Reserved = data[3]
	pc.Status = StatusCode(binary.LittleEndian.Uint32(data[4:8]))
	pc.TimestampType = data[8]
	pc.DataType = data[9]
	pc.Timestamp = binary.LittleEndian.Uint64(data[10:18])

	if pc.DataType != DataTypeCartesian {
		return errors.Wrapf(ErrUnsupportedPointFormat, "data type %d", pc.DataType)
	}
	if (len(data)-PointCloudHeaderSize)%PointRecordSize != 0 {
		return errors.Wrapf(ErrMalformedFrame, "%d record bytes is not a multiple of %d",
			len(data)-PointCloudHeaderSize, PointRecordSize)
	}
	pc.BaseLayer = layers.BaseLayer{
		Contents: data[:PointCloudHeaderSize],
		Payload:  data[PointCloudHeaderSize:],
	}
	return nil
}

// Len returns the number of records
func (pc *PointCloudLayer) Len() int {
	return len(pc.Payload) / PointRecordSize
}

// Points returns an iterator over the records of this datagram
func (pc *PointCloudLayer) Points() *PointIterator {
	return &PointIterator{data: pc.Payload, timestamp: pc.Timestamp}
}

// SerializeTo prepends the header to the records already in the buffer
func (pc *PointCloudLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	h, err := b.PrependBytes(PointCloudHeaderSize)
	if err != nil {
		return err
	}
	h[0] = pc.Version
	h[1] = pc.SlotID
	h[2] = pc.LidarID
	h[3] = pc.Reserved
	binary.LittleEndian.PutUint32(h[4:8], uint32(pc.Status))
	h[8] = pc.TimestampType
	h[9] = pc.DataType
	binary.LittleEndian.PutUint64(h[10:18], pc.Timestamp)
	return nil
}

func decodePointCloudLayer(data []byte, p gopacket.PacketBuilder) error {
	pc := &PointCloudLayer{}
	if err := pc.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(pc)
	return nil
}

// DecodePointCloudFrame decodes one datagram. The returned layer refers to data.
func DecodePointCloudFrame(data []byte) (*PointCloudLayer, error) {
	pc := &PointCloudLayer{}
	if err := pc.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	return pc, nil
}

// EncodePointCloudFrame builds a type 2 datagram
func EncodePointCloudFrame(h PointCloudHeader, records []PointRecord) ([]byte, error) {
	body := make([]byte, len(records)*PointRecordSize)
	for i, r := range records {
		b := body[i*PointRecordSize:]
		binary.LittleEndian.PutUint32(b[0:4], uint32(r.X))
		binary.LittleEndian.PutUint32(b[4:8], uint32(r.Y))
		binary.LittleEndian.PutUint32(b[8:12], uint32(r.Z))
		b[12] = r.Reflectivity
		b[13] = uint8(r.Tag)
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &PointCloudLayer{PointCloudHeader: h}, gopacket.Payload(body)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
