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

package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amimono-dev/amimono/internal/amimonocore"
	"github.com/amimono-dev/amimono/internal/amimonocore/registry"
)

type addReq struct{ A, B int }
type addResp struct{ Sum int }

type fakeLocalAdder struct{}

func (fakeLocalAdder) HandleLocal(ctx context.Context, req any) (any, *amimonocore.RpcError) {
	r := req.(addReq)
	return addResp{Sum: r.A + r.B}, nil
}

// fakeProvider answers discovery against a single httptest server and
// reports Myself as its own address, so CallAt's local short-circuit can
// be exercised deterministically.
type fakeProvider struct {
	addr  string
	empty bool
}

func (p fakeProvider) DiscoverRunning(label string) ([]amimonocore.Location, error) {
	if p.empty {
		return nil, nil
	}
	return []amimonocore.Location{{Addr: p.addr}}, nil
}
func (p fakeProvider) DiscoverStable(label string) ([]amimonocore.Location, error) {
	return p.DiscoverRunning(label)
}
func (p fakeProvider) Myself(label string) (amimonocore.Location, error) {
	return amimonocore.Location{Addr: p.addr}, nil
}
func (p fakeProvider) Storage(label string) (string, error) { return "", nil }

func TestClient_localDispatch(t *testing.T) {
	amimonocore.ResetForTest()
	app := buildSingleComponentApp(t, "adder", "job-a")
	amimonocore.Init(amimonocore.RuntimeArgs{Action: amimonocore.ActionLocal}, app, fakeProvider{})
	defer amimonocore.ResetForTest()

	reg := registry.New()
	require.NoError(t, registry.Publish[LocalHandler](reg, "adder", fakeLocalAdder{}))

	client := New[addReq, addResp](fakeProvider{}, reg, amimonocore.ComponentKind{Label: "adder"}, Options{})
	resp, err := client.Call(context.Background(), addReq{A: 2, B: 3})
	require.NoError(t, err)
	require.Equal(t, 5, resp.Sum)
}

func TestClient_httpDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req addReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(addResp{Sum: req.A + req.B})
	}))
	defer srv.Close()

	amimonocore.ResetForTest()
	app := buildSingleComponentApp(t, "adder", "remote-job")
	amimonocore.Init(amimonocore.RuntimeArgs{Action: amimonocore.ActionJob, JobLabel: "local-job"}, app, fakeProvider{})
	defer amimonocore.ResetForTest()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	reg := registry.New()
	client := New[addReq, addResp](fakeProvider{addr: host}, reg, amimonocore.ComponentKind{Label: "adder"}, Options{Port: uint16(port)})
	resp, err := client.Call(context.Background(), addReq{A: 10, B: 4})
	require.NoError(t, err)
	require.Equal(t, 14, resp.Sum)
}

func TestClient_discoveryEmptyIsNonRetryableMisc(t *testing.T) {
	amimonocore.ResetForTest()
	app := buildSingleComponentApp(t, "adder", "remote-job")
	amimonocore.Init(amimonocore.RuntimeArgs{Action: amimonocore.ActionJob, JobLabel: "local-job"}, app, fakeProvider{empty: true})
	defer amimonocore.ResetForTest()

	reg := registry.New()
	client := New[addReq, addResp](fakeProvider{empty: true}, reg, amimonocore.ComponentKind{Label: "adder"}, Options{})
	_, err := client.Call(context.Background(), addReq{A: 1, B: 1})
	require.Error(t, err)

	rpcErr := amimonocore.AsRpcError(err)
	require.False(t, rpcErr.Retryable())
}

func TestClient_serverErrorPropagatesKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(amimonocore.Misc("handler exploded"))
	}))
	defer srv.Close()

	amimonocore.ResetForTest()
	app := buildSingleComponentApp(t, "adder", "remote-job")
	amimonocore.Init(amimonocore.RuntimeArgs{Action: amimonocore.ActionJob, JobLabel: "local-job"}, app, fakeProvider{})
	defer amimonocore.ResetForTest()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	reg := registry.New()
	retry := amimonocore.Retry{DelayRange: [2]int{1, 2}, MaxAttempts: 1, Factor: 1}
	client := New[addReq, addResp](fakeProvider{addr: u.Hostname()}, reg, amimonocore.ComponentKind{Label: "adder"}, Options{Port: uint16(port), Retry: &retry})

	_, err = client.Call(context.Background(), addReq{A: 1, B: 1})
	require.Error(t, err)
	rpcErr := amimonocore.AsRpcError(err)
	require.Equal(t, amimonocore.KindDownstream, rpcErr.Kind)
	require.Equal(t, "adder", rpcErr.CallChain()[0])
	require.Equal(t, amimonocore.KindMisc, rpcErr.RootCause().Kind)
}

func buildSingleComponentApp(t *testing.T, component, job string) amimonocore.AppConfig {
	t.Helper()
	app := amimonocore.NewAppBuilder("rev-1")
	jb := amimonocore.NewJobBuilder(job)
	require.NoError(t, jb.AddComponent(amimonocore.ComponentConfig{
		Label: component,
		Entry: func(ctx context.Context) error { return nil },
	}))
	require.NoError(t, app.AddJob(jb))

	// Make sure IsLocal(job-a) never accidentally matches when the running
	// job is local-job and the target's actual job isn't, by also seeding a
	// distinct placeholder job so the AppConfig always has more than one job.
	if job != "local-job" {
		placeholder := amimonocore.NewJobBuilder("local-job")
		require.NoError(t, placeholder.AddComponent(amimonocore.ComponentConfig{
			Label: "placeholder-" + strings.ReplaceAll(job, " ", "-"),
			Entry: func(ctx context.Context) error { return nil },
		}))
		require.NoError(t, app.AddJob(placeholder))
	}

	cfg, err := app.Build()
	require.NoError(t, err)
	return cfg
}
