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
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/layers"
)

type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateActive
	StateDegraded
	StateDisconnected
	StateClosed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateHandshaking:  "handshaking",
	StateActive:       "active",
	StateDegraded:     "degraded",
	StateDisconnected: "disconnected",
	StateClosed:       "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown session state %q", text)
}

// Connected reports whether commands may be sent and points decoded
func (s State) Connected() bool {
	return s == StateActive || s == StateDegraded
}

type StateChange struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Session is a snapshot of the connection to one device
type Session struct {
	ID                uuid.UUID         `json:"id"`
	State             State             `json:"state"`
	Device            string            `json:"device,omitempty"`
	BroadcastCode     string            `json:"broadcastCode,omitempty"`
	Seq               uint16            `json:"seq"`
	HeartbeatInterval time.Duration     `json:"heartbeatInterval"`
	LastHeartbeatAck  time.Time         `json:"lastHeartbeatAck"`
	HeartbeatFailures int               `json:"heartbeatFailures"`
	Sampling          bool              `json:"sampling"`
	WorkState         layers.WorkState  `json:"workState"`
	DeviceStatus      layers.StatusCode `json:"deviceStatus"`
}

// session is the mutable state owned by the manager loop
type session struct {
	id                uuid.UUID
	state             State
	device            *net.UDPAddr
	broadcastCode     string
	seq               uint16
	lastHeartbeatAck  time.Time
	heartbeatFailures int
	sampling          bool
	workState         layers.WorkState
	deviceStatus      layers.StatusCode

	heartbeatCancel func()
	heartbeatDone   chan struct{}
}

func (s *session) snapshot(interval time.Duration) Session {
	snap := Session{
		ID:                s.id,
		State:             s.state,
		BroadcastCode:     s.broadcastCode,
		Seq:               s.seq,
		HeartbeatInterval: interval,
		LastHeartbeatAck:  s.lastHeartbeatAck,
		HeartbeatFailures: s.heartbeatFailures,
		Sampling:          s.sampling,
		WorkState:         s.workState,
		DeviceStatus:      s.deviceStatus,
	}
	if s.device != nil {
		snap.Device = s.device.String()
	}
	return snap
}
