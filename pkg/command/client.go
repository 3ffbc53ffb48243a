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
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/config"
	"github.com/shirok1/go-livox/pkg/layers"
	"github.com/shirok1/go-livox/pkg/srv/discover"
	"github.com/shirok1/go-livox/pkg/srv/session"
)

type ApiClient struct {
	*config.Config
	SessionApiPrefix  string
	DiscoverApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:            cfg,
		SessionApiPrefix:  fmt.Sprintf("http://%s:%d/api", cfg.Api.Address, session.ApiPort),
		DiscoverApiPrefix: fmt.Sprintf("http://%s:%d/api", cfg.Api.Address, discover.ApiPort),
	}
}

// ErrApi is a non 200 response
type ErrApi struct {
	Status string
	What   string
}

func (e ErrApi) Error() string {
	if e.What == "" {
		return e.Status
	}
	return fmt.Sprintf("%s: %s", e.Status, e.What)
}

// do sends the request and decodes a JSON body into out when out is not nil
func do(method, url string, out interface{}, v ...interface{}) error {
	r, err := req.Do(method, url, v...)
	if err != nil {
		return err
	}
	if r.Response().StatusCode != http.StatusOK {
		return ErrApi{Status: r.Response().Status, What: strings.TrimSpace(r.String())}
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(r.ToJSON(out), "decode %s response", url)
}

func (c *ApiClient) sessionRequest(method, path string) (*session.Session, error) {
	snap := &session.Session{}
	if err := do(method, c.SessionApiPrefix+path, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Session returns the state of the session served by go-livox serve
func (c *ApiClient) Session() (*session.Session, error) {
	return c.sessionRequest(http.MethodGet, "/session")
}

func (c *ApiClient) Connect() (*session.Session, error) {
	return c.sessionRequest(http.MethodPost, "/session/connect")
}

func (c *ApiClient) Shutdown() (*session.Session, error) {
	return c.sessionRequest(http.MethodPost, "/session/shutdown")
}

func (c *ApiClient) SamplingStart() (*session.Session, error) {
	return c.sessionRequest(http.MethodGet, "/sampling/start")
}

func (c *ApiClient) SamplingStop() (*session.Session, error) {
	return c.sessionRequest(http.MethodGet, "/sampling/stop")
}

func (c *ApiClient) DeviceInfo() (*session.DeviceInfo, error) {
	info := &session.DeviceInfo{}
	if err := do(http.MethodGet, c.SessionApiPrefix+"/device/info", info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *ApiClient) ReadExtrinsic() (*layers.Extrinsic, error) {
	e := &layers.Extrinsic{}
	if err := do(http.MethodGet, c.SessionApiPrefix+"/device/extrinsic", e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *ApiClient) WriteExtrinsic(e layers.Extrinsic) error {
	return do(http.MethodPut, c.SessionApiPrefix+"/device/extrinsic", nil, req.BodyJSON(e))
}

func (c *ApiClient) Stats() (*session.Stats, error) {
	stats := &session.Stats{}
	if err := do(http.MethodGet, c.SessionApiPrefix+"/stats", stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Devices returns the devices recorded by go-livox discover
func (c *ApiClient) Devices() ([]discover.DeviceStatus, error) {
	var devices []discover.DeviceStatus
	if err := do(http.MethodGet, c.DiscoverApiPrefix+"/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}
