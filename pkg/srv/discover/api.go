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

package discover

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/log"
	"github.com/shirok1/go-livox/pkg/srv"
)

const (
	ApiPort = 8003
)

//go:embed swagger.json
var swaggerSpec []byte

type ApiServer struct {
	*srv.ApiServer
	discover *DiscoverServer
}

// DeviceStatus is a device description with its liveness
type DeviceStatus struct {
	*layers.DeviceDescription
	Online bool `json:"online"`
}

func NewApiServer(ctx context.Context, cfg *config.Config, discover *DiscoverServer) (*ApiServer, error) {
	api, err := srv.NewApiServer(ctx, cfg.Api.Address, ApiPort, swaggerSpec)
	if err != nil {
		return nil, err
	}
	s := &ApiServer{
		ApiServer: api,
		discover:  discover,
	}
	s.configureRouter()
	return s, nil
}

func (s *ApiServer) configureRouter() {
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/devices", s.handleDevices()).Methods("GET")
	subRouter.HandleFunc("/devices/{broadcastCode}", s.handleDevice()).Methods("GET")
}

func (s *ApiServer) handleDevices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling devices request")
		devices, err := s.discover.Devices()
		if err != nil {
			srv.WriteError(w, err, http.StatusBadGateway)
			return
		}
		statuses := make([]DeviceStatus, 0, len(devices))
		for _, dd := range devices {
			statuses = append(statuses, DeviceStatus{DeviceDescription: dd, Online: online(dd)})
		}
		srv.WriteJSON(w, statuses)
	}
}

func (s *ApiServer) handleDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["broadcastCode"]
		dd, err := s.discover.state.GetDeviceDescription(code)
		if err != nil {
			srv.WriteError(w, err, http.StatusNotFound)
			return
		}
		srv.WriteJSON(w, DeviceStatus{DeviceDescription: dd, Online: online(dd)})
	}
}
