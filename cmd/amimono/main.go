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

// Command amimono is the single binary produced by the modular-monolith
// build: it can run every component in-process (--local) or be scheduled
// as one job's replica (--job) with cross-component calls transparently
// routed in-process or over the network (§6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/compute/metadata"
	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/amimono-dev/amimono/examples/addsvc"
	"github.com/amimono-dev/amimono/internal/amimonocore"
	"github.com/amimono-dev/amimono/internal/amimonocore/discovery"
	"github.com/amimono-dev/amimono/internal/amimonocore/launcher"
	"github.com/amimono-dev/amimono/internal/amimonocore/logging"
	"github.com/amimono-dev/amimono/internal/amimonocore/metrics"
	"github.com/amimono-dev/amimono/internal/amimonocore/rpcserver"
)

var (
	app = kingpin.New("amimono", "Run amimono components locally or as a scheduled job.")

	dumpConfig = app.Flag("dump-config", "Write the config-dump JSON to standard output and exit.").Bool()
	local      = app.Flag("local", "Run every component in-process.").Bool()
	jobLabel   = app.Flag("job", "Run the components assigned to this job label.").String()
	staticRoot = app.Flag("static", "Force the static-file discovery provider rooted at this path (requires --bind).").String()
	bind       = app.Flag("bind", "Bind listener(s) to this address and override self-location.").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	args, err := parseAction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "amimono:", err)
		os.Exit(2)
	}

	logger := logging.New()
	appConfig := addsvc.BuildAppConfig()

	if args.Action == amimonocore.ActionDumpConfig {
		// §9 open question: DumpConfig never auto-selects the cluster
		// provider, even in-cluster, to avoid a discovery query panicking
		// during a dump.
		amimonocore.Init(args, appConfig, discovery.Noop{})
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(amimonocore.DumpConfig(appConfig)); err != nil {
			level.Error(logger).Log("msg", "amimono: writing config dump failed", "err", err)
			os.Exit(1)
		}
		return
	}

	provider, err := selectProvider(context.Background(), args, appConfig)
	if err != nil {
		level.Error(logger).Log("msg", "amimono: selecting discovery provider failed", "err", err)
		os.Exit(1)
	}
	amimonocore.Init(args, appConfig, provider)

	components, err := launcher.ComponentsFor(appConfig, args)
	if err != nil {
		level.Error(logger).Log("msg", "amimono: resolving component set failed", "err", err)
		os.Exit(1)
	}
	if len(components) == 0 {
		level.Error(logger).Log("msg", "amimono: no components selected")
		os.Exit(2)
	}

	addr := amimonocore.ToAddr(args.Bind, amimonocore.DefaultRPCPort)
	if err := rpcserver.Start(addr, logger, addsvc.Registry(), metrics.Global); err != nil {
		level.Error(logger).Log("msg", "amimono: starting rpc listener failed", "err", err)
		os.Exit(1)
	}

	if err := launcher.Run(context.Background(), logger, components); err != nil {
		level.Error(logger).Log("msg", "amimono: exiting with error", "err", err)
		os.Exit(1)
	}
}

func parseAction() (amimonocore.RuntimeArgs, error) {
	selected := 0
	for _, b := range []bool{*dumpConfig, *local, *jobLabel != ""} {
		if b {
			selected++
		}
	}
	if selected != 1 {
		return amimonocore.RuntimeArgs{}, fmt.Errorf("exactly one action must be specified: --dump-config, --local, or --job")
	}
	if *staticRoot != "" && *bind == "" {
		return amimonocore.RuntimeArgs{}, fmt.Errorf("--static requires --bind")
	}

	args := amimonocore.RuntimeArgs{Bind: *bind, StaticRoot: *staticRoot}
	switch {
	case *dumpConfig:
		args.Action = amimonocore.ActionDumpConfig
	case *local:
		args.Action = amimonocore.ActionLocal
	case *jobLabel != "":
		args.Action = amimonocore.ActionJob
		args.JobLabel = *jobLabel
	}
	return args, nil
}

// selectProvider implements §6's Environment auto-select: an explicit
// --static root always wins; otherwise detect in-cluster (cluster-watch),
// then a local development checkout (local provider), otherwise fall back
// to noop with a warning.
func selectProvider(ctx context.Context, args amimonocore.RuntimeArgs, appConfig amimonocore.AppConfig) (amimonocore.Provider, error) {
	logger := logging.New()

	if args.StaticRoot != "" {
		return discovery.NewStaticFile(args.StaticRoot, appConfig, args.Bind)
	}

	if cfg, err := rest.InClusterConfig(); err == nil {
		client, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return nil, err
		}
		namespace, _ := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
		selfAddr := os.Getenv("POD_IP")
		return discovery.NewCluster(ctx, discovery.ClusterConfig{
			Client:    client,
			Namespace: string(namespace),
			Revision:  appConfig.Revision,
			SelfAddr:  selfAddr,
			JobOf:     appConfig.JobOf,
			Logger:    logger,
		})
	}

	// A local development checkout is the nearest Go-native analogue of the
	// original "CARGO_MANIFEST_DIR set" signal (§6): both mean "we are
	// running from a source tree during development, not a deployed pod".
	// GCE/GKE metadata absence is consulted the same way the teacher's
	// cmd/operator uses metadata.OnGCE() to decide whether it is running
	// off-cluster.
	if _, err := os.Stat("go.mod"); err == nil && !metadata.OnGCE() {
		return discovery.Local{Addr: args.Bind}, nil
	}

	level.Warn(logger).Log("msg", "amimono: no discovery environment detected, falling back to noop provider")
	return discovery.Noop{}, nil
}
