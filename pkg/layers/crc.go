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
	"hash/crc32"
	"math/bits"

	"github.com/sigurn/crc16"
)

const (
	// Livox seeds the CRC registers with non-standard values
	crc16Seed = 0x4c49
	crc32Seed = 0x564f580a
)

// The table works on the unreflected register
var crc16Table = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   bits.Reverse16(crc16Seed),
	RefIn:  true,
	RefOut: true,
	XorOut: 0x0000,
	Name:   "CRC-16/LIVOX",
})

// Checksum16 calculates the control frame header checksum
func Checksum16(data []byte) uint16 {
	return crc16.Checksum(data, crc16Table)
}

// Checksum32 calculates the control frame checksum
func Checksum32(data []byte) uint32 {
	return crc32.Update(crc32Seed, crc32.IEEETable, data)
}
