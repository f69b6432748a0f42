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
	"github.com/pkg/errors"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

// Noop rejects every call. It is selected for the DumpConfig action, where
// no discovery should ever be needed (§4.C4, §9 open question).
type Noop struct{}

var errNoop = errors.New("amimono: discovery is unavailable in this mode (noop provider)")

func (Noop) DiscoverRunning(label string) ([]amimonocore.Location, error) { return nil, errNoop }
func (Noop) DiscoverStable(label string) ([]amimonocore.Location, error) { return nil, errNoop }
func (Noop) Myself(label string) (amimonocore.Location, error)           { return amimonocore.Location{}, errNoop }
func (Noop) Storage(label string) (string, error)                       { return "", errNoop }
