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

package publish

import (
	"context"
	"sync/atomic"

	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/transform"
)

// Sink consumes projected frames
type Sink interface {
	Publish(ctx context.Context, frame *transform.ProjectedFrame) error
	Close() error
}

type Fanout struct {
	sinks     []Sink
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Run hands every frame to every sink until frames is closed or the
// context is done, then closes the sinks. A failing sink does not stop
// the others.
func (f *Fanout) Run(ctx context.Context, frames <-chan *transform.ProjectedFrame) {
	defer f.close()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			for _, sink := range f.sinks {
				if err := sink.Publish(ctx, frame); err != nil {
					f.failed.Add(1)
					log.Warning("Error while publishing frame %d: %s", frame.Timestamp, err)
					continue
				}
				f.delivered.Add(1)
			}
		}
	}
}

func (f *Fanout) close() {
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			log.Warning("Error while closing sink: %s", err)
		}
	}
}

func (f *Fanout) Delivered() uint64 {
	return f.delivered.Load()
}

func (f *Fanout) Failed() uint64 {
	return f.failed.Load()
}

// LogSink logs a summary of every frame at debug level
type LogSink struct{}

func (LogSink) Publish(_ context.Context, frame *transform.ProjectedFrame) error {
	log.Debug("Frame %d from lidar %d: %d points in view", frame.Timestamp, frame.LidarID, len(frame.Points))
	return nil
}

func (LogSink) Close() error {
	return nil
}
