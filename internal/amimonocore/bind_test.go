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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToAddr(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0.0.0.0:9099", ToAddr("", 9099))
	require.Equal(t, "10.0.0.5:9099", ToAddr("10.0.0.5", 9099))
}

func TestOutboundURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "http://10.0.0.5:9099/rpc/adder", OutboundURL("10.0.0.5", 9099, "adder"))
}
