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

package srv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/shirok1/go-livox/pkg/log"
)

const (
	SpecPath = "/swagger.json"
	DocsPath = "docs"
)

// ApiServer is the HTTP part shared by the servers: the router, access log,
// panic recovery and the swagger document with its rendered docs
type ApiServer struct {
	context.Context
	*mux.Router
	Address string
	Port    int
	title   string
	spec    []byte
}

// NewApiServer validates the swagger document served at /swagger.json
func NewApiServer(ctx context.Context, address string, port int, spec []byte) (*ApiServer, error) {
	doc, err := loads.Analyzed(spec, "")
	if err != nil {
		return nil, errors.Wrap(err, "invalid swagger document")
	}
	title := doc.Spec().Info.Title
	log.Debug("Initializing API server %q with address: %s port: %d", title, address, port)

	return &ApiServer{
		Context: ctx,
		Router:  mux.NewRouter(),
		Address: address,
		Port:    port,
		title:   title,
		spec:    spec,
	}, nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error("API handler panic: %s", fmt.Sprint(v...))
}

func (s *ApiServer) Handler() http.Handler {
	docs := middleware.Redoc(middleware.RedocOpts{
		SpecURL: SpecPath,
		Path:    DocsPath,
		Title:   s.title,
	}, s.Router)
	withSpec := middleware.Spec("", s.spec, docs)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))
	return recovery(handlers.LoggingHandler(log.Writer(), withSpec))
}

// Run serves until the context is done
func (s *ApiServer) Run() error {
	log.Info("Starting API server: address: %s port: %d", s.Address, s.Port)
	httpServer := &http.Server{
		Handler: s.Handler(),
		Addr:    fmt.Sprintf("%s:%d", s.Address, s.Port),
	}

	go func() {
		<-s.Context.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}

func WriteError(w http.ResponseWriter, err error, code int) {
	log.Debug("API error %d: %s", code, err)
	http.Error(w, err.Error(), code)
}
