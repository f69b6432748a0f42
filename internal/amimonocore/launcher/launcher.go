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

// Package launcher implements the component entry/launcher (§4.C8): it
// determines the component set from the runtime action and joins every
// component's entry_fn as one oklog/run.Group actor, exactly as every
// cmd/*/main.go in the teacher wires its run.Group.
package launcher

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

// ComponentsFor returns the ordered component set for the given action:
// every component across every job for ActionLocal, or the components of
// one job for ActionJob/ActionTool.
func ComponentsFor(app amimonocore.AppConfig, args amimonocore.RuntimeArgs) ([]amimonocore.ComponentConfig, error) {
	switch args.Action {
	case amimonocore.ActionLocal:
		var out []amimonocore.ComponentConfig
		for _, jobLabel := range app.JobLabels() {
			job := app.Jobs[jobLabel]
			for _, label := range job.ComponentLabels() {
				out = append(out, job.Components[label])
			}
		}
		return out, nil
	case amimonocore.ActionJob, amimonocore.ActionTool:
		job, ok := app.Jobs[args.JobLabel]
		if !ok {
			return nil, unknownJobError(args.JobLabel)
		}
		var out []amimonocore.ComponentConfig
		for _, label := range job.ComponentLabels() {
			out = append(out, job.Components[label])
		}
		return out, nil
	default:
		return nil, nil
	}
}

func unknownJobError(label string) error {
	return &jobError{label: label}
}

type jobError struct{ label string }

func (e *jobError) Error() string { return "amimono: unknown job " + e.label }

// Run builds the actor group for components and joins it: one actor per
// component entry-fn, one for SIGINT/SIGTERM. When the first actor returns,
// every other actor's interrupt function runs and Run returns that actor's
// error so main can exit non-zero (§4.C8, §5 Cancellation). Panics are not
// recovered: a panicking entry-fn terminates the process.
func Run(ctx context.Context, logger log.Logger, components []amimonocore.ComponentConfig) error {
	var g run.Group

	runCtx, cancel := context.WithCancel(ctx)

	for _, comp := range components {
		comp := comp
		g.Add(func() error {
			level.Info(logger).Log("msg", "amimono: component starting", "component", comp.Label)
			err := comp.Entry(runCtx)
			if err != nil {
				level.Error(logger).Log("msg", "amimono: component exited with error", "component", comp.Label, "err", err)
			}
			return err
		}, func(error) {
			cancel()
		})
	}

	{
		term := make(chan os.Signal, 1)
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "amimono: received shutdown signal")
			case <-runCtx.Done():
			}
			return nil
		}, func(error) {
			cancel()
			signal.Stop(term)
			close(term)
		})
	}

	return g.Run()
}
