// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpcserver implements the single cooperative HTTP listener that
// multiplexes /rpc/<label> onto registered codecs (§4.C6), following the
// net/http + promhttp wiring every teacher cmd/*/main.go uses.
package rpcserver

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/amimono-dev/amimono/internal/amimonocore"
	"github.com/amimono-dev/amimono/internal/amimonocore/metrics"
	"github.com/amimono-dev/amimono/internal/amimonocore/registry"
)

// Server is the process-wide RPC listener. All locally-running RPC
// components share one instance, started lazily on first use (§4.C6).
type Server struct {
	addr     string
	logger   log.Logger
	reg      *registry.Registry
	metrics  *metrics.Metrics
	mux      *http.ServeMux
	startErr error
}

var (
	globalOnce sync.Once
	global     *Server
)

// Start lazily starts the process-wide server bound to addr on first call;
// subsequent calls are no-ops (the LazyLock guard required by §4.C6).
// Logger and registry are only consulted on the first call.
func Start(addr string, logger log.Logger, reg *registry.Registry, m *metrics.Metrics) error {
	globalOnce.Do(func() {
		s := &Server{addr: addr, logger: logger, reg: reg, metrics: m, mux: http.NewServeMux()}
		s.mux.HandleFunc("/rpc/", s.handleRPC)
		s.mux.Handle("/metrics", m.Handler())
		global = s
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.startErr = err
			level.Error(logger).Log("msg", "amimono: rpc listener failed to start", "addr", addr, "err", err)
			return
		}
		level.Info(logger).Log("msg", "amimono: rpc listener started", "addr", addr)
		go func() {
			if err := http.Serve(ln, s.mux); err != nil && err != http.ErrServerClosed {
				level.Error(logger).Log("msg", "amimono: rpc listener exited", "err", err)
			}
		}()
	})
	return global.startErr
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Path[len("/rpc/"):]
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, amimonocore.Misc("reading request body: %v", err))
		return
	}

	resp, rpcErr, ok := s.reg.Dispatch(r.Context(), label, body)
	if !ok {
		s.writeError(w, amimonocore.Misc("no handler for %s", label))
		return
	}
	if rpcErr != nil {
		s.writeError(w, rpcErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) writeError(w http.ResponseWriter, rpcErr *amimonocore.RpcError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(rpcErr)
}

// ResetForTest clears the lazily-started global listener so a test process
// can exercise Start repeatedly against different addresses (§9 testing
// guidance); production code must never call it.
func ResetForTest() {
	globalOnce = sync.Once{}
	global = nil
}
