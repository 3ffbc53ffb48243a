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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shirok1/go-livox/pkg/layers"
)

func serve(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) Session {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestApi(t *testing.T) {
	m, sim := setup(t, nil)
	api, err := NewApiServer(context.Background(), m.cfg, m)
	require.NoError(t, err)
	h := api.Handler()

	snap := decodeSession(t, serve(t, h, http.MethodGet, "/api/session", ""))
	assert.Equal(t, StateIdle, snap.State)

	rec := serve(t, h, http.MethodGet, "/api/sampling/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/sampling/pause", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	snap = decodeSession(t, serve(t, h, http.MethodPost, "/api/session/connect", ""))
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, m.SessionID(), snap.ID)

	snap = decodeSession(t, serve(t, h, http.MethodGet, "/api/sampling/start", ""))
	assert.True(t, snap.Sampling)
	assert.True(t, sim.Sampling())

	rec = serve(t, h, http.MethodGet, "/api/device/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"firmware":"6.4.0.0"}`, rec.Body.String())

	rec = serve(t, h, http.MethodPut, "/api/device/extrinsic", `{"roll":1,"pitch":2,"yaw":3,"x":4,"y":5,"z":6}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, h, http.MethodGet, "/api/device/extrinsic", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var extrinsic layers.Extrinsic
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &extrinsic))
	want := layers.Extrinsic{Roll: 1, Pitch: 2, Yaw: 3, X: 4, Y: 5, Z: 6}
	if diff := cmp.Diff(want, extrinsic); diff != "" {
		t.Errorf("extrinsic mismatch (-want +got):\n%s", diff)
	}

	rec = serve(t, h, http.MethodPut, "/api/device/extrinsic", `{"roll":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.NotZero(t, stats.Control.Acked)

	rec = serve(t, h, http.MethodGet, "/swagger.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "getSession")

	rec = serve(t, h, http.MethodGet, "/docs", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	snap = decodeSession(t, serve(t, h, http.MethodPost, "/api/session/shutdown", ""))
	assert.Equal(t, StateClosed, snap.State)

	rec = serve(t, h, http.MethodPost, "/api/session/connect", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
