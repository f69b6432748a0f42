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

import "fmt"

// DefaultRPCPort is the TCP port the RPC server listens on by default (§6).
const DefaultRPCPort uint16 = 9099

// ToAddr resolves a listener socket address for port, honoring an optional
// --bind override. Empty bindOverride binds 0.0.0.0:<port> (§4.C10).
func ToAddr(bindOverride string, port uint16) string {
	host := bindOverride
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// OutboundURL builds the outbound RPC URL for a component label resolved
// at addr, per §4.C10.
func OutboundURL(addr string, port uint16, label string) string {
	return fmt.Sprintf("http://%s:%d/rpc/%s", addr, port, label)
}
