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

package discovery

import (
	"path/filepath"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

// Local returns the configured loopback address for every discovery call.
// cmd/amimono selects it when neither --static nor an in-cluster config is
// present and the process runs from a source checkout, for --local and
// --job alike.
type Local struct {
	Addr string // defaults to 127.0.0.1 if empty
	Root string // storage root, defaults to ./.amimono/storage
}

func (l Local) addr() string {
	if l.Addr == "" {
		return "127.0.0.1"
	}
	return l.Addr
}

func (l Local) DiscoverRunning(label string) ([]amimonocore.Location, error) {
	return []amimonocore.Location{{Tag: amimonocore.Ephemeral, Addr: l.addr()}}, nil
}

func (l Local) DiscoverStable(label string) ([]amimonocore.Location, error) {
	return l.DiscoverRunning(label)
}

func (l Local) Myself(label string) (amimonocore.Location, error) {
	return amimonocore.Location{Tag: amimonocore.Ephemeral, Addr: l.addr()}, nil
}

// Storage creates and returns ./.amimono/storage/<label>/.
func (l Local) Storage(label string) (string, error) {
	root := l.Root
	if root == "" {
		root = "./.amimono/storage"
	}
	return ensureDir(filepath.Join(root, label))
}
