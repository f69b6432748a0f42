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

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

// staticFile is the shape of <root>/amimono.toml (§6).
type staticFile struct {
	Job map[string]struct {
		Locations []string `toml:"locations"`
	} `toml:"job"`
}

// StaticFile answers discovery queries from a TOML file read once at
// construction time (SPEC_FULL.md supplemented feature 5: no hot-reload).
// It requires the component-to-job mapping from the running AppConfig to
// translate a component label into the job whose locations it should
// return.
type StaticFile struct {
	root      string
	app       amimonocore.AppConfig
	myself    string
	jobLocs   map[string][]amimonocore.Location
}

// NewStaticFile reads <root>/amimono.toml and builds a provider. myself is
// the value of --bind, used to answer Myself and to namespace storage.
func NewStaticFile(root string, app amimonocore.AppConfig, myself string) (*StaticFile, error) {
	var parsed staticFile
	path := filepath.Join(root, "amimono.toml")
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return nil, errors.Wrapf(err, "amimono: reading static discovery config %s", path)
	}
	jobLocs := make(map[string][]amimonocore.Location, len(parsed.Job))
	for job, entry := range parsed.Job {
		locs := make([]amimonocore.Location, 0, len(entry.Locations))
		for _, addr := range entry.Locations {
			locs = append(locs, amimonocore.Location{Tag: amimonocore.Stable, Addr: addr})
		}
		jobLocs[job] = locs
	}
	return &StaticFile{root: root, app: app, myself: myself, jobLocs: jobLocs}, nil
}

func (s *StaticFile) locationsFor(label string) ([]amimonocore.Location, error) {
	job, ok := s.app.JobOf(label)
	if !ok {
		return nil, errors.Errorf("amimono: unknown component %q", label)
	}
	return s.jobLocs[job], nil
}

func (s *StaticFile) DiscoverRunning(label string) ([]amimonocore.Location, error) {
	return s.locationsFor(label)
}

func (s *StaticFile) DiscoverStable(label string) ([]amimonocore.Location, error) {
	return s.locationsFor(label)
}

func (s *StaticFile) Myself(label string) (amimonocore.Location, error) {
	return amimonocore.Location{Tag: amimonocore.Stable, Addr: s.myself}, nil
}

// Storage creates and returns <root>/storage/<myself>/<component>/.
func (s *StaticFile) Storage(label string) (string, error) {
	return ensureDir(filepath.Join(s.root, "storage", s.myself, label))
}
