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

import "fmt"

// StatusCode is the LiDAR status word carried by data frames, heartbeat
// ACKs and abnormal status pushes
type StatusCode uint32

const (
	StatusNormal  = 0
	StatusWarning = 1
	StatusError   = 2
)

func (s StatusCode) bits(shift, width uint) uint8 {
	return uint8((uint32(s) >> shift) & (1<<width - 1))
}

func (s StatusCode) Temperature() uint8  { return s.bits(0, 2) }
func (s StatusCode) Voltage() uint8      { return s.bits(2, 2) }
func (s StatusCode) Motor() uint8        { return s.bits(4, 2) }
func (s StatusCode) Dirty() uint8        { return s.bits(6, 2) }
func (s StatusCode) Firmware() uint8     { return s.bits(8, 1) }
func (s StatusCode) PPS() uint8          { return s.bits(9, 1) }
func (s StatusCode) Device() uint8       { return s.bits(10, 1) }
func (s StatusCode) Fan() uint8          { return s.bits(11, 1) }
func (s StatusCode) SelfHeating() uint8  { return s.bits(12, 1) }
func (s StatusCode) PTP() uint8          { return s.bits(13, 1) }
func (s StatusCode) TimeSync() uint8     { return s.bits(14, 3) }
func (s StatusCode) SystemStatus() uint8 { return s.bits(30, 2) }

// IsError reports a device-side fault, the session can not continue
func (s StatusCode) IsError() bool {
	return s.SystemStatus() == StatusError
}

func (s StatusCode) String() string {
	return fmt.Sprintf("system=%d temp=%d volt=%d motor=%d dirty=%d fw=%d pps=%d dev=%d fan=%d heating=%d ptp=%d sync=%d",
		s.SystemStatus(), s.Temperature(), s.Voltage(), s.Motor(), s.Dirty(), s.Firmware(),
		s.PPS(), s.Device(), s.Fan(), s.SelfHeating(), s.PTP(), s.TimeSync())
}

// WorkState is reported in heartbeat ACKs
type WorkState uint8

const (
	WorkStateInitializing WorkState = 0
	WorkStateNormal       WorkState = 1
	WorkStatePowerSaving  WorkState = 2
	WorkStateStandby      WorkState = 3
	WorkStateError        WorkState = 4
)

func (w WorkState) String() string {
	switch w {
	case WorkStateInitializing:
		return "initializing"
	case WorkStateNormal:
		return "normal"
	case WorkStatePowerSaving:
		return "power-saving"
	case WorkStateStandby:
		return "standby"
	case WorkStateError:
		return "error"
	}
	return fmt.Sprintf("WorkState(%d)", uint8(w))
}

// HeartbeatStatus is the content of a heartbeat ACK
type HeartbeatStatus struct {
	RetCode    uint8      `json:"retCode"`
	WorkState  WorkState  `json:"workState"`
	FeatureMsg uint8      `json:"featureMsg"`
	Status     StatusCode `json:"status"`
}

func HeartbeatStatusFromPayload(p Payload) HeartbeatStatus {
	return HeartbeatStatus{
		RetCode:    p.Uint8(FieldRetCode),
		WorkState:  WorkState(p.Uint8(FieldWorkState)),
		FeatureMsg: p.Uint8(FieldFeatureMsg),
		Status:     StatusCode(p.Uint32(FieldAckMsg)),
	}
}
