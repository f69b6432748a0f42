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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

func buildStaticApp(t *testing.T) amimonocore.AppConfig {
	t.Helper()
	app := amimonocore.NewAppBuilder("rev-1")
	jb := amimonocore.NewJobBuilder("adder-job")
	require.NoError(t, jb.AddComponent(amimonocore.ComponentConfig{
		Label: "adder",
		Entry: func(ctx context.Context) error { return nil },
	}))
	require.NoError(t, app.AddJob(jb))
	built, err := app.Build()
	require.NoError(t, err)
	return built
}

func TestStaticFile_resolvesLocationsByJob(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	toml := "[job.\"adder-job\"]\nlocations = [\"10.0.0.1\", \"10.0.0.2\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "amimono.toml"), []byte(toml), 0o644))

	app := buildStaticApp(t)
	sf, err := NewStaticFile(root, app, "10.0.0.9")
	require.NoError(t, err)

	locs, err := sf.DiscoverRunning("adder")
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, amimonocore.Stable, locs[0].Tag)

	loc, err := sf.Myself("adder")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9", loc.Addr)
}

func TestStaticFile_unknownComponentErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "amimono.toml"), []byte("\n"), 0o644))

	app := buildStaticApp(t)
	sf, err := NewStaticFile(root, app, "10.0.0.9")
	require.NoError(t, err)

	_, err = sf.DiscoverRunning("does-not-exist")
	require.Error(t, err)
}

func TestStaticFile_missingFileErrors(t *testing.T) {
	t.Parallel()

	app := buildStaticApp(t)
	_, err := NewStaticFile(t.TempDir(), app, "10.0.0.9")
	require.Error(t, err)
}
