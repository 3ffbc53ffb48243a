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

package ifc

import (
	"context"
	"net"
	"time"

	"github.com/shirok1/go-livox/pkg/layers"
)

// SequenceSource hands out control sequence numbers. The session owns the
// counter, the command channel only asks for the next value.
type SequenceSource interface {
	NextSeq(ctx context.Context) (uint16, error)
}

type CommandStats struct {
	Sent          uint64 `json:"sent"`
	Retransmitted uint64 `json:"retransmitted"`
	Acked         uint64 `json:"acked"`
	Stale         uint64 `json:"stale"`
	Timeouts      uint64 `json:"timeouts"`
	Messages      uint64 `json:"messages"`
	DecodeErrors  uint64 `json:"decodeErrors"`
}

type ControlServer interface {
	Run() error
	Close() error

	// Send transmits a command and waits for the matching ACK.
	// The command is sent at most maxRetries+1 times.
	Send(ctx context.Context, key layers.CommandKey, payload layers.Payload,
		timeout time.Duration, maxRetries int) (*layers.ControlFrame, error)

	SetPeer(addr *net.UDPAddr)
	Peer() *net.UDPAddr
	LocalAddr() *net.UDPAddr

	// OnMessage sets the handler for MSG frames pushed by the device
	OnMessage(handler func(frame *layers.ControlFrame))

	Stats() CommandStats
}
