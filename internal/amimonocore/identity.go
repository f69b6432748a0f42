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

// Package amimonocore implements the amimono runtime: the process-global
// registry and identity model, the location-discovery abstraction, the
// retry policy, and the RPC client/server fabric that ties them together.
package amimonocore

import (
	"context"

	"github.com/pkg/errors"
)

// StorageRequest declares that a component needs persistent local storage.
type StorageRequest struct {
	Bytes uint64
}

// ComponentKind is the compile-time identity of a component: its label,
// the ports it binds, and whether it requests persistent storage. The
// instance type is not carried here; callers name it as a type parameter
// when they publish or await an instance.
type ComponentKind struct {
	Label   string
	Ports   []uint16
	Storage *StorageRequest
}

// IsStateful reports whether this kind requested storage.
func (k ComponentKind) IsStateful() bool {
	return k.Storage != nil
}

// EntryFunc is a component's main. It performs any initialization, then
// must call registry.Publish as early as possible, then block in its own
// service loop until ctx is done.
type EntryFunc func(ctx context.Context) error

// ComponentConfig is the dynamic, per-app configuration of one component.
type ComponentConfig struct {
	Label      string
	Kind       ComponentKind
	Ports      []uint16
	IsStateful bool
	Entry      EntryFunc
}

// JobConfig is an ordered set of components scheduled together as one
// workload replica.
type JobConfig struct {
	Label      string
	Components map[string]ComponentConfig
	order      []string
}

// IsStateful reports whether any member component is stateful.
func (j JobConfig) IsStateful() bool {
	for _, c := range j.Components {
		if c.IsStateful {
			return true
		}
	}
	return false
}

// ComponentLabels returns component labels in the order they were added.
func (j JobConfig) ComponentLabels() []string {
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out
}

// AppConfig is the fully built, immutable application configuration.
type AppConfig struct {
	Revision  string
	Jobs      map[string]JobConfig
	Placement map[string]string // component label -> job label

	jobOrder []string
}

// JobLabels returns job labels in the order they were added.
func (a AppConfig) JobLabels() []string {
	out := make([]string, len(a.jobOrder))
	copy(out, a.jobOrder)
	return out
}

// JobOf returns the job label a component belongs to.
func (a AppConfig) JobOf(componentLabel string) (string, bool) {
	j, ok := a.Placement[componentLabel]
	return j, ok
}

// Component looks up a component's config by label across all jobs.
func (a AppConfig) Component(label string) (ComponentConfig, bool) {
	jobLabel, ok := a.Placement[label]
	if !ok {
		return ComponentConfig{}, false
	}
	c, ok := a.Jobs[jobLabel].Components[label]
	return c, ok
}

// JobBuilder accumulates components for a single job.
type JobBuilder struct {
	label      string
	components map[string]ComponentConfig
	order      []string
}

// NewJobBuilder starts a job builder. label may be empty; it is only
// required when more than one component is added (§3 JobConfig invariant).
func NewJobBuilder(label string) *JobBuilder {
	return &JobBuilder{label: label, components: map[string]ComponentConfig{}}
}

// AddComponent registers a component under this job. Fails on duplicate
// label within the job.
func (b *JobBuilder) AddComponent(cfg ComponentConfig) error {
	if cfg.Label == "" {
		return errors.New("amimono: component label must not be empty")
	}
	if _, exists := b.components[cfg.Label]; exists {
		return errors.Errorf("amimono: duplicate component label %q in job %q", cfg.Label, b.label)
	}
	if cfg.Ports == nil {
		cfg.Ports = cfg.Kind.Ports
	}
	b.components[cfg.Label] = cfg
	b.order = append(b.order, cfg.Label)
	return nil
}

func (b *JobBuilder) build() (JobConfig, error) {
	if len(b.components) == 0 {
		return JobConfig{}, errors.New("amimono: job must have at least one component")
	}
	label := b.label
	if label == "" {
		if len(b.components) > 1 {
			return JobConfig{}, errors.New("amimono: job label is required when a job has more than one component")
		}
		label = b.order[0]
	}
	return JobConfig{Label: label, Components: b.components, order: append([]string(nil), b.order...)}, nil
}

// AppBuilder accumulates jobs into an AppConfig. Construction fails
// deterministically on any duplicate label (scenario S6).
type AppBuilder struct {
	revision string
	jobs     map[string]JobConfig
	order    []string
}

// NewAppBuilder starts an app builder stamped with revision.
func NewAppBuilder(revision string) *AppBuilder {
	return &AppBuilder{revision: revision, jobs: map[string]JobConfig{}}
}

// AddJob finalizes a JobBuilder and adds it to the app. Fails if the job
// label collides with an existing job, or any component label in it
// collides with a component already registered in a different job.
func (a *AppBuilder) AddJob(jb *JobBuilder) error {
	job, err := jb.build()
	if err != nil {
		return err
	}
	if _, exists := a.jobs[job.Label]; exists {
		return errors.Errorf("amimono: duplicate job label %q", job.Label)
	}
	for label := range job.Components {
		for _, existing := range a.jobs {
			if _, clash := existing.Components[label]; clash {
				return errors.Errorf("amimono: duplicate component label %q across jobs %q and %q", label, existing.Label, job.Label)
			}
		}
	}
	a.jobs[job.Label] = job
	a.order = append(a.order, job.Label)
	return nil
}

// Build produces the immutable AppConfig with a total placement map.
func (a *AppBuilder) Build() (AppConfig, error) {
	if len(a.jobs) == 0 {
		return AppConfig{}, errors.New("amimono: app must have at least one job")
	}
	placement := map[string]string{}
	for _, job := range a.jobs {
		for label := range job.Components {
			placement[label] = job.Label
		}
	}
	return AppConfig{
		Revision:  a.revision,
		Jobs:      a.jobs,
		Placement: placement,
		jobOrder:  append([]string(nil), a.order...),
	}, nil
}
