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
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

type DeviceType uint8

const (
	DeviceTypeHub     DeviceType = 0
	DeviceTypeMid40   DeviceType = 1
	DeviceTypeTele15  DeviceType = 2
	DeviceTypeHorizon DeviceType = 3
	DeviceTypeMid70   DeviceType = 6
	DeviceTypeAvia    DeviceType = 7
)

func (d DeviceType) String() string {
	switch d {
	case DeviceTypeHub:
		return "Hub"
	case DeviceTypeMid40:
		return "Mid-40"
	case DeviceTypeTele15:
		return "Tele-15"
	case DeviceTypeHorizon:
		return "Horizon"
	case DeviceTypeMid70:
		return "Mid-70"
	case DeviceTypeAvia:
		return "Avia"
	}
	return fmt.Sprintf("DeviceType(%d)", uint8(d))
}

// DeviceDescription is what a device announces in its broadcast message
type DeviceDescription struct {
	BroadcastCode string     `json:"broadcastCode"`
	DeviceType    DeviceType `json:"deviceType"`
	Address       net.IP     `json:"address"`
	Port          uint16     `json:"port"`
	Timestamp     uint64     `json:"timestamp,omitempty"` // milliseconds
}

// DeviceDescriptionFromBroadcast reads a broadcast MSG frame
func DeviceDescriptionFromBroadcast(f *ControlFrame) (*DeviceDescription, error) {
	if f.Type != FrameTypeMsg || f.Key != CmdBroadcast {
		return nil, errors.Errorf("not a broadcast message: %s", f)
	}
	code := f.Payload.Raw(FieldBroadcastCode)
	if i := bytes.IndexByte(code, 0); i >= 0 {
		code = code[:i]
	}
	return &DeviceDescription{
		BroadcastCode: string(code),
		DeviceType:    DeviceType(f.Payload.Uint8(FieldDevType)),
	}, nil
}

// BroadcastPayload builds the broadcast message a device sends
func BroadcastPayload(code string, deviceType DeviceType) Payload {
	return mustSchema(CmdBroadcast, FrameTypeMsg).New().
		SetRaw(FieldBroadcastCode, []byte(code)).
		SetUint8(FieldDevType, uint8(deviceType))
}

func (dd *DeviceDescription) SetSource(udpAddr *net.UDPAddr) {
	dd.Address = udpAddr.IP
	dd.Port = uint16(udpAddr.Port)
}

func (dd *DeviceDescription) SetTimestamp() {
	dd.Timestamp = uint64(time.Now().UnixMilli())
}

// CmdAddr is where the device accepts commands
func (dd *DeviceDescription) CmdAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: dd.Address, Port: int(dd.Port)}
}

func (dd *DeviceDescription) String() string {
	data, err := yaml.Marshal(dd)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("---\n%s", data)
}
