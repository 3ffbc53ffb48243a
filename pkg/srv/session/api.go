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
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/srv"
	"github.com/shirok1/go-livox/pkg/srv/control"
)

const (
	ApiPort = 8000
)

//go:embed swagger.json
var swaggerSpec []byte

type ApiServer struct {
	*srv.ApiServer
	manager *Manager
}

type DeviceInfo struct {
	Firmware string `json:"firmware"`
}

func NewApiServer(ctx context.Context, cfg *config.Config, manager *Manager) (*ApiServer, error) {
	api, err := srv.NewApiServer(ctx, cfg.Api.Address, ApiPort, swaggerSpec)
	if err != nil {
		return nil, err
	}
	s := &ApiServer{
		ApiServer: api,
		manager:   manager,
	}
	s.configureRouter()
	return s, nil
}

func (s *ApiServer) configureRouter() {
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/session", s.handleSession()).Methods("GET")
	subRouter.HandleFunc("/session/connect", s.handleConnect()).Methods("POST")
	subRouter.HandleFunc("/session/shutdown", s.handleShutdown()).Methods("POST")
	subRouter.HandleFunc("/sampling/{action:start|stop}", s.handleSampling()).Methods("GET")
	subRouter.HandleFunc("/device/info", s.handleDeviceInfo()).Methods("GET")
	subRouter.HandleFunc("/device/extrinsic", s.handleReadExtrinsic()).Methods("GET")
	subRouter.HandleFunc("/device/extrinsic", s.handleWriteExtrinsic()).Methods("PUT")
	subRouter.HandleFunc("/stats", s.handleStats()).Methods("GET")
}

func statusCode(err error) int {
	switch {
	case errors.As(err, &ErrSessionState{}):
		return http.StatusConflict
	case errors.Is(err, ErrManagerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, control.ErrCommandTimeout), errors.Is(err, control.ErrCancelled):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *ApiServer) writeSession(w http.ResponseWriter) {
	snap, err := s.manager.Session()
	if err != nil {
		srv.WriteError(w, err, statusCode(err))
		return
	}
	srv.WriteJSON(w, snap)
}

func (s *ApiServer) handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSession(w)
	}
}

func (s *ApiServer) handleConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling connect request")
		if err := s.manager.Connect(r.Context()); err != nil {
			srv.WriteError(w, err, statusCode(err))
			return
		}
		s.writeSession(w)
	}
}

func (s *ApiServer) handleShutdown() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling shutdown request")
		if err := s.manager.Shutdown(r.Context()); err != nil {
			srv.WriteError(w, err, statusCode(err))
			return
		}
		s.writeSession(w)
	}
}

func (s *ApiServer) handleSampling() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := mux.Vars(r)["action"]
		log.Debug("Handling sampling request: %s", action)
		var err error
		switch action {
		case "start":
			err = s.manager.StartSampling(r.Context())
		case "stop":
			err = s.manager.StopSampling(r.Context())
		default:
			srv.WriteError(w, srv.ErrUnknownOperation{What: action}, http.StatusBadRequest)
			return
		}
		if err != nil {
			srv.WriteError(w, err, statusCode(err))
			return
		}
		s.writeSession(w)
	}
}

func (s *ApiServer) handleDeviceInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		firmware, err := s.manager.DeviceInfo(r.Context())
		if err != nil {
			srv.WriteError(w, err, statusCode(err))
			return
		}
		srv.WriteJSON(w, DeviceInfo{Firmware: firmware})
	}
}

func (s *ApiServer) handleReadExtrinsic() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		extrinsic, err := s.manager.ReadExtrinsic(r.Context())
		if err != nil {
			srv.WriteError(w, err, statusCode(err))
			return
		}
		srv.WriteJSON(w, extrinsic)
	}
}

func (s *ApiServer) handleWriteExtrinsic() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		extrinsic := layers.Extrinsic{}
		if err := json.NewDecoder(r.Body).Decode(&extrinsic); err != nil {
			srv.WriteError(w, err, http.StatusBadRequest)
			return
		}
		if err := s.manager.WriteExtrinsic(r.Context(), extrinsic); err != nil {
			srv.WriteError(w, err, statusCode(err))
			return
		}
		srv.WriteJSON(w, extrinsic)
	}
}

func (s *ApiServer) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv.WriteJSON(w, s.manager.Stats())
	}
}
