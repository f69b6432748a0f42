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

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

func TestCell_publishThenAwait(t *testing.T) {
	t.Parallel()

	c := NewCell[int]()
	require.NoError(t, c.Publish(42))

	v, err := c.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestCell_secondPublishFails(t *testing.T) {
	t.Parallel()

	c := NewCell[int]()
	require.NoError(t, c.Publish(1))
	require.Error(t, c.Publish(2))

	v, _ := c.TryGet()
	require.Equal(t, 1, v, "the first published value must never be overwritten")
}

func TestCell_awaitBlocksUntilPublish(t *testing.T) {
	t.Parallel()

	c := NewCell[string]()
	done := make(chan string, 1)
	go func() {
		v, err := c.Await(context.Background())
		require.NoError(t, err)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Await returned before Publish")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, c.Publish("ready"))
	select {
	case v := <-done:
		require.Equal(t, "ready", v)
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after Publish")
	}
}

func TestCell_awaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	c := NewCell[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCell_tryGetNonBlocking(t *testing.T) {
	t.Parallel()

	c := NewCell[int]()
	_, ok := c.TryGet()
	require.False(t, ok)

	require.NoError(t, c.Publish(7))
	v, ok := c.TryGet()
	require.True(t, ok)
	require.Equal(t, 7, v)
}

type fakeHandler struct{ id int }

func TestRegistry_publishAwaitByLabel(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, Publish[fakeHandler](r, "adder", fakeHandler{id: 1}))

	h, err := Await[fakeHandler](r, context.Background(), "adder")
	require.NoError(t, err)
	require.Equal(t, 1, h.id)
}

func TestRegistry_secondPublishSameLabelFails(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, Publish[fakeHandler](r, "adder", fakeHandler{id: 1}))
	require.Error(t, Publish[fakeHandler](r, "adder", fakeHandler{id: 2}))
}

func TestRegistry_typeMismatchPanics(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, Publish[fakeHandler](r, "adder", fakeHandler{id: 1}))

	require.Panics(t, func() {
		_, _ = TryGet[int](r, "adder")
	})
}

type fakeCodec struct{}

func (fakeCodec) Handle(ctx context.Context, body []byte) ([]byte, *amimonocore.RpcError) {
	return body, nil
}

func TestRegistry_dispatchUnregisteredLabel(t *testing.T) {
	t.Parallel()

	r := New()
	_, _, ok := r.Dispatch(context.Background(), "missing", nil)
	require.False(t, ok)
}

func TestRegistry_dispatchRoundTrips(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterCodec("echo", fakeCodec{})

	resp, rpcErr, ok := r.Dispatch(context.Background(), "echo", []byte("hi"))
	require.True(t, ok)
	require.Nil(t, rpcErr)
	require.Equal(t, []byte("hi"), resp)
}
