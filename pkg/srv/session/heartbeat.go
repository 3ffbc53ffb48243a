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
	"context"
	"time"

	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
)

// Commander sends one heartbeat and returns the device status from its ACK
type Commander interface {
	Heartbeat(ctx context.Context) (layers.HeartbeatStatus, error)
}

// HeartbeatObserver is told about every heartbeat outcome.
// Returning false stops the scheduler.
type HeartbeatObserver interface {
	HeartbeatSucceeded(status layers.HeartbeatStatus) bool
	HeartbeatFailed(err error) bool
}

// HeartbeatScheduler keeps the device connection alive. The device drops
// the host when heartbeats stop.
type HeartbeatScheduler struct {
	interval  time.Duration
	commander Commander
	observer  HeartbeatObserver
}

func NewHeartbeatScheduler(interval time.Duration, commander Commander, observer HeartbeatObserver) *HeartbeatScheduler {
	return &HeartbeatScheduler{
		interval:  interval,
		commander: commander,
		observer:  observer,
	}
}

// Run sends a heartbeat every interval until the context is done or the
// observer asks to stop. A heartbeat slower than the interval delays the
// next one, they never overlap.
func (h *HeartbeatScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := h.commander.Heartbeat(ctx)
		if ctx.Err() != nil {
			return
		}
		var next bool
		if err != nil {
			log.Warning("Heartbeat failed: %s", err)
			next = h.observer.HeartbeatFailed(err)
		} else {
			next = h.observer.HeartbeatSucceeded(status)
		}
		if !next {
			log.Debug("Heartbeat stopped")
			return
		}
	}
}
