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
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the wire type of a payload field. All numbers are little-endian.
type Kind uint8

const (
	KindUint8 Kind = iota
	KindUint16
	KindUint32
	KindInt32
	KindFloat32
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	case KindBytes:
		return "bytes"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Field is one entry of a payload layout
type Field struct {
	Name string
	Kind Kind
	Len  int // only used by KindBytes
}

func (f Field) Size() int {
	switch f.Kind {
	case KindUint8:
		return 1
	case KindUint16:
		return 2
	case KindUint32, KindInt32, KindFloat32:
		return 4
	}
	return f.Len
}

func U8(name string) Field  { return Field{Name: name, Kind: KindUint8} }
func U16(name string) Field { return Field{Name: name, Kind: KindUint16} }
func U32(name string) Field { return Field{Name: name, Kind: KindUint32} }
func I32(name string) Field { return Field{Name: name, Kind: KindInt32} }
func F32(name string) Field { return Field{Name: name, Kind: KindFloat32} }

func Raw(name string, n int) Field { return Field{Name: name, Kind: KindBytes, Len: n} }

// Schema is the ordered field layout of a fixed-size payload.
// Both encoding and decoding go through the same offsets.
type Schema struct {
	Name    string
	Fields  []Field
	offsets map[string]int
	index   map[string]int
	size    int
}

// NewSchema builds a layout. It panics on duplicate field names since
// schemas are static tables.
func NewSchema(name string, fields ...Field) *Schema {
	s := &Schema{
		Name:    name,
		Fields:  fields,
		offsets: make(map[string]int, len(fields)),
		index:   make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, ok := s.offsets[f.Name]; ok {
			panic(fmt.Sprintf("layers: schema %s: duplicate field %s", name, f.Name))
		}
		s.offsets[f.Name] = s.size
		s.index[f.Name] = i
		s.size += f.Size()
	}
	return s
}

// Size returns payload size in bytes
func (s *Schema) Size() int {
	return s.size
}

// New returns a zeroed payload
func (s *Schema) New() Payload {
	return Payload{schema: s, data: make([]byte, s.size)}
}

// Decode copies data into a payload. The size must match exactly.
func (s *Schema) Decode(data []byte) (Payload, error) {
	if len(data) != s.size {
		return Payload{}, errors.Wrapf(ErrMalformedFrame, "%s payload is %d bytes, expected %d", s.Name, len(data), s.size)
	}
	p := s.New()
	copy(p.data, data)
	return p, nil
}

func (s *Schema) locate(name string, kind Kind) (int, Field) {
	i, ok := s.index[name]
	if !ok {
		panic(fmt.Sprintf("layers: schema %s has no field %s", s.Name, name))
	}
	f := s.Fields[i]
	if f.Kind != kind {
		panic(fmt.Sprintf("layers: field %s.%s is %s, not %s", s.Name, name, f.Kind, kind))
	}
	return s.offsets[name], f
}

// Payload is a typed view over the bytes of a command payload
type Payload struct {
	schema *Schema
	data   []byte
}

func (p Payload) Schema() *Schema {
	return p.schema
}

// Bytes returns the wire representation
func (p Payload) Bytes() []byte {
	return p.data
}

func (p Payload) Len() int {
	return len(p.data)
}

func (p Payload) Uint8(name string) uint8 {
	off, _ := p.schema.locate(name, KindUint8)
	return p.data[off]
}

func (p Payload) SetUint8(name string, v uint8) Payload {
	off, _ := p.schema.locate(name, KindUint8)
	p.data[off] = v
	return p
}

func (p Payload) Uint16(name string) uint16 {
	off, _ := p.schema.locate(name, KindUint16)
	return binary.LittleEndian.Uint16(p.data[off:])
}

func (p Payload) SetUint16(name string, v uint16) Payload {
	off, _ := p.schema.locate(name, KindUint16)
	binary.LittleEndian.PutUint16(p.data[off:], v)
	return p
}

func (p Payload) Uint32(name string) uint32 {
	off, _ := p.schema.locate(name, KindUint32)
	return binary.LittleEndian.Uint32(p.data[off:])
}

func (p Payload) SetUint32(name string, v uint32) Payload {
	off, _ := p.schema.locate(name, KindUint32)
	binary.LittleEndian.PutUint32(p.data[off:], v)
	return p
}

func (p Payload) Int32(name string) int32 {
	off, _ := p.schema.locate(name, KindInt32)
	return int32(binary.LittleEndian.Uint32(p.data[off:]))
}

func (p Payload) SetInt32(name string, v int32) Payload {
	off, _ := p.schema.locate(name, KindInt32)
	binary.LittleEndian.PutUint32(p.data[off:], uint32(v))
	return p
}

func (p Payload) Float32(name string) float32 {
	off, _ := p.schema.locate(name, KindFloat32)
	return math.Float32frombits(binary.LittleEndian.Uint32(p.data[off:]))
}

func (p Payload) SetFloat32(name string, v float32) Payload {
	off, _ := p.schema.locate(name, KindFloat32)
	binary.LittleEndian.PutUint32(p.data[off:], math.Float32bits(v))
	return p
}

// Raw returns a copy of a byte array field
func (p Payload) Raw(name string) []byte {
	off, f := p.schema.locate(name, KindBytes)
	out := make([]byte, f.Len)
	copy(out, p.data[off:off+f.Len])
	return out
}

// SetRaw copies v into a byte array field, truncating or zero padding it
func (p Payload) SetRaw(name string, v []byte) Payload {
	off, f := p.schema.locate(name, KindBytes)
	field := p.data[off : off+f.Len]
	n := copy(field, v)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
	return p
}

// Map returns field values keyed by field name
func (p Payload) Map() map[string]interface{} {
	m := make(map[string]interface{})
	if p.schema == nil {
		return m
	}
	for _, f := range p.schema.Fields {
		switch f.Kind {
		case KindUint8:
			m[f.Name] = p.Uint8(f.Name)
		case KindUint16:
			m[f.Name] = p.Uint16(f.Name)
		case KindUint32:
			m[f.Name] = p.Uint32(f.Name)
		case KindInt32:
			m[f.Name] = p.Int32(f.Name)
		case KindFloat32:
			m[f.Name] = p.Float32(f.Name)
		case KindBytes:
			m[f.Name] = p.Raw(f.Name)
		}
	}
	return m
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

func (p Payload) String() string {
	if p.schema == nil {
		return "{}"
	}
	m := p.Map()
	var b strings.Builder
	b.WriteString(p.schema.Name)
	b.WriteByte('{')
	for i, f := range p.schema.Fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%v", f.Name, m[f.Name])
	}
	b.WriteByte('}')
	return b.String()
}
