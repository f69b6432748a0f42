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

// ConfigDump is the JSON shape consumed by the (out of scope) operator CLI,
// per spec §6.
type ConfigDump struct {
	Revision string             `json:"revision"`
	Jobs     map[string]JobDump `json:"jobs"`
}

// JobDump is one job's entry in ConfigDump.
type JobDump struct {
	IsStateful bool                     `json:"isStateful"`
	Components map[string]ComponentDump `json:"components"`
}

// ComponentDump is one component's entry in JobDump.
type ComponentDump struct {
	IsStateful bool     `json:"isStateful"`
	Ports      []uint16 `json:"ports"`
}

// DumpConfig renders an AppConfig into the wire shape of the config-dump.
func DumpConfig(app AppConfig) ConfigDump {
	jobs := make(map[string]JobDump, len(app.Jobs))
	for label, job := range app.Jobs {
		components := make(map[string]ComponentDump, len(job.Components))
		for clabel, c := range job.Components {
			ports := c.Ports
			if ports == nil {
				ports = []uint16{}
			}
			components[clabel] = ComponentDump{IsStateful: c.IsStateful, Ports: ports}
		}
		jobs[label] = JobDump{IsStateful: job.IsStateful(), Components: components}
	}
	return ConfigDump{Revision: app.Revision, Jobs: jobs}
}
