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

package amimonocore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRpcError_Retryable(t *testing.T) {
	t.Parallel()

	require.True(t, Spurious("retry me").Retryable())
	require.False(t, Misc("don't retry me").Retryable())
	require.True(t, Downstream("mid", Spurious("leaf")).Retryable())
	require.False(t, Downstream("mid", Misc("leaf")).Retryable())
	require.False(t, Downstream("outer", Downstream("mid", Misc("leaf"))).Retryable())
}

func TestRpcError_RootCauseAndCallChain(t *testing.T) {
	t.Parallel()

	leaf := Misc("boom")
	wrapped := Downstream("b", Downstream("a", leaf))

	require.Same(t, leaf, wrapped.RootCause())
	require.Equal(t, []string{"b", "a"}, wrapped.CallChain())
}

func TestDownstream_nilInnerBecomesMisc(t *testing.T) {
	t.Parallel()

	e := Downstream("a", nil)
	require.Equal(t, KindMisc, e.Inner.Kind)
	require.False(t, e.Retryable())
}

func TestAsRpcError_passesThroughExisting(t *testing.T) {
	t.Parallel()

	original := Spurious("already structured")
	require.Same(t, original, AsRpcError(original))
}

func TestAsRpcError_classifiesTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	<-ctx.Done()

	got := AsRpcError(context.DeadlineExceeded)
	require.Equal(t, KindSpurious, got.Kind)
}

func TestAsRpcError_classifiesMisc(t *testing.T) {
	t.Parallel()

	got := AsRpcError(errPlain{})
	require.Equal(t, KindMisc, got.Kind)
}

type errPlain struct{}

func (errPlain) Error() string { return "plain error" }
