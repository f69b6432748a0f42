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

// Package rpcclient implements the generic dispatch client (§4.C7): it
// decides in-process vs. HTTP per call, applies a per-attempt timeout,
// wraps downstream errors, and drives the retry policy. The outbound
// http.Client construction mirrors the teacher's cmd/frontend/main.go
// proxy transport, and the retry loop follows the same backoff idiom as
// the GuildNet registry's reconnect loop (see DESIGN.md).
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"

	"github.com/pkg/errors"

	"github.com/amimono-dev/amimono/internal/amimonocore"
	"github.com/amimono-dev/amimono/internal/amimonocore/metrics"
	"github.com/amimono-dev/amimono/internal/amimonocore/registry"
)

// LocalHandler is the type-erased view of a colocated component's live
// handler: encode the typed request to bytes elsewhere, decode the typed
// response from bytes elsewhere. Client[Req,Resp] wraps this with the
// concrete types.
type LocalHandler interface {
	HandleLocal(ctx context.Context, req any) (resp any, rpcErr *amimonocore.RpcError)
}

// Client dispatches calls to one target ComponentKind, choosing between the
// in-process path (if the target is colocated) and HTTP (otherwise), per
// §4.C7. Cloning a Client is cheap: clones share the underlying HTTP
// transport and the reference to the process registry.
type Client[Req any, Resp any] struct {
	targetLabel string
	port        uint16
	isLocal     bool // fixed at construction: target is colocated in this process
	provider    amimonocore.Provider
	reg         *registry.Registry
	retry       amimonocore.Retry
	httpClient  *http.Client
	metrics     *metrics.Metrics

	// encode/decode let callers avoid depending on encoding/json directly
	// if their request/response types need custom wire handling; nil means
	// use encoding/json.
	encodeReq func(Req) ([]byte, error)
	decodeRes func([]byte) (Resp, error)
}

// Options configures a Client beyond its defaults.
type Options struct {
	Port    uint16 // defaults to amimonocore.DefaultRPCPort
	Retry   *amimonocore.Retry
	Metrics *metrics.Metrics
}

// New constructs a client targeting target. Whether the target is
// colocated is decided once, at construction, from the process's current
// placement (§4.C7: "a client object holds an optional shared future
// resolving to the local instance, non-empty iff the target is locally
// present").
func New[Req any, Resp any](provider amimonocore.Provider, reg *registry.Registry, target amimonocore.ComponentKind, opts Options) *Client[Req, Resp] {
	port := opts.Port
	if port == 0 {
		port = amimonocore.DefaultRPCPort
	}
	retry := amimonocore.DefaultRetry()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Global
	}
	return &Client[Req, Resp]{
		targetLabel: target.Label,
		port:        port,
		isLocal:     amimonocore.IsLocal(target),
		provider:    provider,
		reg:         reg,
		retry:       retry,
		httpClient:  &http.Client{},
		metrics:     m,
	}
}

// Call resolves placement and invokes the target, retrying per policy.
func (c *Client[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return c.call(ctx, req, nil)
}

// CallAt calls an explicit location rather than using discovery. If loc
// equals the caller's own Myself() address, it short-circuits to the
// in-process path (§4.C7 CallAt variant).
func (c *Client[Req, Resp]) CallAt(ctx context.Context, req Req, loc amimonocore.Location) (Resp, error) {
	return c.call(ctx, req, &loc)
}

func (c *Client[Req, Resp]) call(ctx context.Context, req Req, explicit *amimonocore.Location) (Resp, error) {
	var zero Resp
	var lastErr *amimonocore.RpcError

	for attempt := uint(1); ; attempt++ {
		c.metrics.RPCAttemptsTotal.WithLabelValues(c.targetLabel).Inc()

		resp, rpcErr := c.attempt(ctx, req, explicit)
		if rpcErr == nil {
			c.metrics.RPCCallsTotal.WithLabelValues(c.targetLabel, "ok").Inc()
			return resp, nil
		}
		wrapped := amimonocore.Downstream(c.targetLabel, rpcErr)
		lastErr = wrapped

		if !c.retry.ShouldRetry(attempt, wrapped) {
			c.metrics.RPCCallsTotal.WithLabelValues(c.targetLabel, "error").Inc()
			return zero, lastErr
		}
		if err := c.retry.Sleep(ctx, attempt); err != nil {
			c.metrics.RPCCallsTotal.WithLabelValues(c.targetLabel, "error").Inc()
			return zero, amimonocore.Downstream(c.targetLabel, amimonocore.SpuriousFrom(err, "retry sleep interrupted"))
		}
	}
}

// attempt performs exactly one dispatch: in-process, explicit-location
// HTTP, or discovered HTTP (§4.C7 per-call algorithm).
func (c *Client[Req, Resp]) attempt(ctx context.Context, req Req, explicit *amimonocore.Location) (Resp, *amimonocore.RpcError) {
	var zero Resp

	if c.isLocal {
		h, err := registry.Await[LocalHandler](c.reg, ctx, c.targetLabel)
		if err != nil {
			return zero, amimonocore.SpuriousFrom(err, "waiting for local instance %s", c.targetLabel)
		}
		return c.dispatchLocal(ctx, h, req)
	}

	if explicit != nil {
		if myself, err := c.provider.Myself(c.targetLabel); err == nil && myself.Addr == explicit.Addr {
			h, err := registry.Await[LocalHandler](c.reg, ctx, c.targetLabel)
			if err == nil {
				return c.dispatchLocal(ctx, h, req)
			}
		}
		return c.dispatchHTTP(ctx, explicit.Addr, req)
	}

	locs, err := c.provider.DiscoverRunning(c.targetLabel)
	if err != nil {
		return zero, amimonocore.MiscFrom(err, "discovery failed for %s", c.targetLabel)
	}
	if len(locs) == 0 {
		return zero, amimonocore.Misc("discovery endpoints empty")
	}
	pick := locs[rand.Intn(len(locs))]
	return c.dispatchHTTP(ctx, pick.Addr, req)
}

func (c *Client[Req, Resp]) dispatchLocal(ctx context.Context, h LocalHandler, req Req) (Resp, *amimonocore.RpcError) {
	var zero Resp
	resp, rpcErr := h.HandleLocal(ctx, req)
	if rpcErr != nil {
		return zero, rpcErr
	}
	typed, ok := resp.(Resp)
	if !ok {
		return zero, amimonocore.Misc("local handler for %s returned unexpected type %T", c.targetLabel, resp)
	}
	return typed, nil
}

func (c *Client[Req, Resp]) dispatchHTTP(ctx context.Context, addr string, req Req) (Resp, *amimonocore.RpcError) {
	var zero Resp

	body, err := c.encode(req)
	if err != nil {
		return zero, amimonocore.MiscFrom(err, "encoding request to %s", c.targetLabel)
	}

	timeout := amimonocore.JitteredTimeout(500, 2000)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := amimonocore.OutboundURL(addr, c.port, c.targetLabel)
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return zero, amimonocore.MiscFrom(err, "building request to %s", c.targetLabel)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() != nil {
			return zero, amimonocore.SpuriousFrom(err, "timeout calling %s", c.targetLabel)
		}
		return zero, amimonocore.SpuriousFrom(err, "calling %s", c.targetLabel)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return zero, amimonocore.MiscFrom(err, "reading response from %s", c.targetLabel)
	}

	if httpResp.StatusCode != http.StatusOK {
		var rpcErr amimonocore.RpcError
		if err := json.Unmarshal(respBody, &rpcErr); err != nil {
			return zero, amimonocore.Misc("non-OK response from %s: status %d", c.targetLabel, httpResp.StatusCode)
		}
		return zero, &rpcErr
	}

	resp, err := c.decode(respBody)
	if err != nil {
		return zero, amimonocore.MiscFrom(err, "decoding response from %s", c.targetLabel)
	}
	return resp, nil
}

func (c *Client[Req, Resp]) encode(req Req) ([]byte, error) {
	if c.encodeReq != nil {
		return c.encodeReq(req)
	}
	return json.Marshal(req)
}

func (c *Client[Req, Resp]) decode(data []byte) (Resp, error) {
	if c.decodeRes != nil {
		return c.decodeRes(data)
	}
	var resp Resp
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, errors.WithStack(err)
	}
	return resp, nil
}
