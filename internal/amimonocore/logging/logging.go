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

// Package logging builds the go-kit logger every amimono binary and
// component shares, following the construction every cmd/* main in the
// teacher repo uses.
package logging

import (
	"os"

	"github.com/go-kit/log"
)

// New builds the base logfmt logger with timestamp and caller fields.
func New() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger
}

// ForComponent returns a logger keyed with the owning component's label.
func ForComponent(base log.Logger, label string) log.Logger {
	return log.With(base, "component", label)
}
