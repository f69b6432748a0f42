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

// Package metrics wires a dedicated prometheus.Registry into the RPC
// listener, the same way every teacher cmd/* binary registers the Go and
// process collectors onto its own registry and exposes /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the amimono runtime's own RPC/retry/discovery counters.
type Metrics struct {
	Registry *prometheus.Registry

	RPCCallsTotal      *prometheus.CounterVec
	RPCAttemptsTotal   *prometheus.CounterVec
	DiscoveryCacheSize *prometheus.GaugeVec
}

// New constructs the registry and registers the standard Go/process
// collectors plus amimono's own counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		RPCCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amimono_rpc_calls_total",
			Help: "Total RPC client calls by target label and outcome.",
		}, []string{"label", "outcome"}),
		RPCAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amimono_rpc_attempts_total",
			Help: "Total RPC attempts (including retries) by target label.",
		}, []string{"label"}),
		DiscoveryCacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amimono_discovery_cache_pods",
			Help: "Number of pods currently cached by job, cluster discovery provider only.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.RPCCallsTotal, m.RPCAttemptsTotal, m.DiscoveryCacheSize)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Global is the process-wide metrics bundle every component, the RPC
// server, and the RPC client record against.
var Global = New()
