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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaLayout(t *testing.T) {
	s := NewSchema("Test", U8("a"), U16("b"), U32("c"), I32("d"), F32("e"), Raw("f", 3))
	assert.Equal(t, 1+2+4+4+4+3, s.Size())

	p := s.New().
		SetUint8("a", 0x01).
		SetUint16("b", 0x0302).
		SetUint32("c", 0x07060504).
		SetInt32("d", -2).
		SetFloat32("e", 1.5).
		SetRaw("f", []byte{0xAA, 0xBB})

	assert.Equal(t, []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06, 0x07,
		0xFE, 0xFF, 0xFF, 0xFF,
		0x00, 0x00, 0xC0, 0x3F,
		0xAA, 0xBB, 0x00,
	}, p.Bytes())

	decoded, err := s.Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), decoded.Uint8("a"))
	assert.Equal(t, uint16(0x0302), decoded.Uint16("b"))
	assert.Equal(t, uint32(0x07060504), decoded.Uint32("c"))
	assert.Equal(t, int32(-2), decoded.Int32("d"))
	assert.Equal(t, float32(1.5), decoded.Float32("e"))
	assert.Equal(t, []byte{0xAA, 0xBB, 0x00}, decoded.Raw("f"))
	assert.Equal(t, "Test{a:1 b:770 c:117835012 d:-2 e:1.5 f:[170 187 0]}", decoded.String())

	_, err = s.Decode(p.Bytes()[1:])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestSchemaMisuse(t *testing.T) {
	assert.Panics(t, func() { NewSchema("Dup", U8("a"), U8("a")) })

	p := NewSchema("Small", U8("a")).New()
	assert.Panics(t, func() { p.Uint8("missing") })
	assert.Panics(t, func() { p.Uint16("a") })
}

func TestPayloadJSON(t *testing.T) {
	p := mustSchema(CmdQueryDeviceInfo, FrameTypeAck).New().SetRaw(FieldVersion, []byte{1, 2, 3, 4})
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ret_code":0,"version":"AQIDBA=="}`, string(data))
	assert.Equal(t, "1.2.3.4", FirmwareVersion(p))
}

func TestExtrinsicPayload(t *testing.T) {
	e := Extrinsic{Roll: 1.25, Pitch: -0.5, Yaw: 90, X: 10, Y: -20, Z: 300}
	p := ExtrinsicRequest(e)
	assert.Equal(t, e, ExtrinsicFromPayload(p))
}
