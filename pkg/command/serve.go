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

package command

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/publish"
	"github.com/shirok1/go-livox/pkg/srv/discover"
	"github.com/shirok1/go-livox/pkg/srv/session"
)

// ShutdownTimeout bounds the disconnect handshake on exit
const ShutdownTimeout = 2 * time.Second

type ServeOptions struct {
	// Connect opens the session right after start
	Connect bool
	// Reconnect opens a new session after the device is lost
	Reconnect bool
}

// Serve runs the session manager with its API and the frame publishers
// until ctx is done or the session is shut down via the API.
func Serve(ctx context.Context, cfg *config.Config, opts ServeOptions) error {
	// Servers outlive ctx so that the device can be told to disconnect
	srvCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 4)

	var locator session.DeviceLocator
	if cfg.Device.IP == "" {
		discoverServer, err := discover.NewDiscoverServer(srvCtx, cfg)
		if err != nil {
			return err
		}
		discoverApi, err := discover.NewApiServer(srvCtx, cfg, discoverServer)
		if err != nil {
			discoverServer.Close()
			return err
		}
		go func() { errChan <- discoverServer.Run() }()
		go func() { errChan <- discoverApi.Run() }()
		locator = discoverServer
	}

	manager, err := session.NewManager(srvCtx, cfg, locator)
	if err != nil {
		return err
	}
	api, err := session.NewApiServer(srvCtx, cfg, manager)
	if err != nil {
		manager.Shutdown(srvCtx)
		return err
	}

	sinks := []publish.Sink{publish.LogSink{}}
	if cfg.Publish.MQTT != nil && cfg.Publish.MQTT.Broker != "" {
		sink, err := publish.NewMQTTSink(cfg.Publish.MQTT)
		if err != nil {
			manager.Shutdown(srvCtx)
			return err
		}
		sinks = append(sinks, sink)
	}
	fanout := publish.NewFanout(sinks...)

	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run() }()
	go func() { errChan <- api.Run() }()
	go fanout.Run(srvCtx, manager.Frames())
	go watch(srvCtx, cfg, manager, opts.Reconnect)
	if opts.Connect {
		go connect(srvCtx, cfg, manager)
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-managerDone:
		log.Info("Session manager stopped")
	case err = <-errChan:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(srvCtx, ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, session.ErrManagerStopped) {
		log.Warning("Error while shutting down session: %s", shutdownErr)
	}
	log.Info("Frames delivered: %d, failed: %d", fanout.Delivered(), fanout.Failed())
	return err
}

// connect retries Connect until a session is open
func connect(ctx context.Context, cfg *config.Config, m *session.Manager) {
	retry := 4 * cfg.Control.HeartbeatInterval.Duration
	for {
		err := m.Connect(ctx)
		if err == nil || errors.Is(err, session.ErrManagerStopped) || errors.As(err, &session.ErrSessionState{}) {
			return
		}
		log.Warning("Error while connecting: %s. Retry in %s", err, retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func watch(ctx context.Context, cfg *config.Config, m *session.Manager, reconnect bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-m.StateChanges():
			log.Info("Session %s -> %s: %s", change.From, change.To, change.Reason)
			if change.To == session.StateDisconnected && reconnect {
				go connect(ctx, cfg, m)
			}
		}
	}
}
