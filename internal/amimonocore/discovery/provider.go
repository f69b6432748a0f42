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

// Package discovery implements the four location-discovery provider
// variants named in §4.C4: noop, local, static-file, and cluster-watch. All
// satisfy amimonocore.Provider.
package discovery

import (
	"os"
	"path/filepath"
)

// ensureDir creates dir (and parents) with 0o755 if it doesn't already
// exist, matching the original implementation's storage directory creation
// semantics (SPEC_FULL.md supplemented feature 4).
func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Clean(dir), nil
}
