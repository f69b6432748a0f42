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

// Package registry implements the process-wide instance registry (§4.C3):
// type-keyed, write-once cells that publish a live handler to in-process
// callers and gate on readiness.
//
// The locking shape follows the per-id registry in GuildNet's cluster
// registry (RWMutex-guarded map, get-or-create under the write lock) adapted
// from "lazily created per-cluster instance" to "write-once per-label cell".
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

// Cell is a single-writer, many-reader rendezvous holding a value of type I.
// States: Empty -> Set(I). At most one successful Set; later calls fail.
type Cell[I any] struct {
	mu    sync.Mutex
	ready chan struct{}
	value I
	set   bool
}

// NewCell constructs an empty cell.
func NewCell[I any]() *Cell[I] {
	return &Cell[I]{ready: make(chan struct{})}
}

// Publish sets the cell's value. A second call returns an error; it never
// overwrites the first value.
func (c *Cell[I]) Publish(v I) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return fmt.Errorf("amimono: instance already published")
	}
	c.value = v
	c.set = true
	close(c.ready)
	return nil
}

// Await suspends until Publish is called, or ctx is done.
func (c *Cell[I]) Await(ctx context.Context) (I, error) {
	select {
	case <-c.ready:
		c.mu.Lock()
		v := c.value
		c.mu.Unlock()
		return v, nil
	case <-ctx.Done():
		var zero I
		return zero, ctx.Err()
	}
}

// TryGet returns the value and true if already published, without blocking.
func (c *Cell[I]) TryGet() (v I, ok bool) {
	select {
	case <-c.ready:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.value, true
	default:
		var zero I
		return zero, false
	}
}

// erasedCell is the type-erased view of a Cell[I], used by the process-wide
// map so cells of differing instance types can share one registry.
type erasedCell interface {
	publishErased(v any) error
	awaitErased(ctx context.Context) (any, error)
}

type typedCell[I any] struct{ c *Cell[I] }

func (t typedCell[I]) publishErased(v any) error {
	iv, ok := v.(I)
	if !ok {
		panic(fmt.Sprintf("amimono: instance type mismatch: got %T", v))
	}
	return t.c.Publish(iv)
}

func (t typedCell[I]) awaitErased(ctx context.Context) (any, error) {
	return t.c.Await(ctx)
}

// HTTPCodec is installed per label when the owning component publishes its
// instance. It deserializes request bytes into the kind's request type,
// invokes the live handler, and serializes the response (§4.C6).
type HTTPCodec interface {
	Handle(ctx context.Context, body []byte) ([]byte, *amimonocore.RpcError)
}

// Registry is the process-wide map from component label to instance cell,
// plus the codec map consumed by the RPC server.
type Registry struct {
	mu     sync.RWMutex
	cells  map[string]erasedCell
	codecs map[string]HTTPCodec
}

// New constructs an empty registry. Production code uses the process-global
// instance below; New exists so tests can exercise isolated registries.
func New() *Registry {
	return &Registry{cells: map[string]erasedCell{}, codecs: map[string]HTTPCodec{}}
}

// RegisterCodec installs label's HTTP codec. Called once, alongside
// Publish, by the owning component's main.
func (r *Registry) RegisterCodec(label string, codec HTTPCodec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[label] = codec
}

// Dispatch looks up label's codec and invokes it. Returns ok=false if no
// codec is registered for label, so the caller can produce the
// `Misc("no handler for <label>")` response required by §4.C6.
func (r *Registry) Dispatch(ctx context.Context, label string, body []byte) (resp []byte, rpcErr *amimonocore.RpcError, ok bool) {
	r.mu.RLock()
	codec, found := r.codecs[label]
	r.mu.RUnlock()
	if !found {
		return nil, nil, false
	}
	resp, rpcErr = codec.Handle(ctx, body)
	return resp, rpcErr, true
}

func cellFor[I any](r *Registry, label string) *Cell[I] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cells[label]; ok {
		tc, ok := existing.(typedCell[I])
		if !ok {
			panic(fmt.Sprintf("amimono: instance type mismatch for label %q", label))
		}
		return tc.c
	}
	c := NewCell[I]()
	r.cells[label] = typedCell[I]{c: c}
	return c
}

// Publish sets the label's instance cell. A second call for the same label
// fails (§4.C3, §8 property 3); the owning component's main must be the
// only caller.
func Publish[I any](r *Registry, label string, instance I) error {
	return cellFor[I](r, label).Publish(instance)
}

// Await suspends until label's instance is published, or ctx is done. Safe
// to call from any task, including concurrently with Publish.
func Await[I any](r *Registry, ctx context.Context, label string) (I, error) {
	return cellFor[I](r, label).Await(ctx)
}

// TryGet returns the published instance for label without blocking.
func TryGet[I any](r *Registry, label string) (I, bool) {
	return cellFor[I](r, label).TryGet()
}

// Global is the process-wide registry instance every component publishes
// to and every same-process client reads from.
var Global = New()
