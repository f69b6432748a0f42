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

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Retry is a bounded exponential backoff policy with jitter, driven by an
// error's own retryability (§4.C5).
type Retry struct {
	// DelayRange is [lo, hi] in milliseconds; each sleep duration is drawn
	// uniformly from this range before being scaled by the backoff factor.
	DelayRange [2]int
	// MaxAttempts is the hard cap on attempts; zero means unlimited.
	MaxAttempts uint
	// Factor is the per-attempt backoff multiplier, capped at 50x per §4.C5.
	Factor float64
}

// DefaultRetry is the client's default retry policy per §4.C5.
func DefaultRetry() Retry {
	return Retry{DelayRange: [2]int{100, 200}, MaxAttempts: 5, Factor: 1.5}
}

// ShouldRetry reports whether attempt n (1-based) should be retried given
// err. It does not sleep.
func (r Retry) ShouldRetry(n uint, err *RpcError) bool {
	if err == nil || !err.Retryable() {
		return false
	}
	if r.MaxAttempts > 0 && n >= r.MaxAttempts {
		return false
	}
	return true
}

// Sleep blocks for the jittered, factor-scaled delay for attempt n
// (1-based), or returns ctx.Err() if ctx is done first.
func (r Retry) Sleep(ctx context.Context, n uint) error {
	d := r.delay(n)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r Retry) delay(n uint) time.Duration {
	lo, hi := r.DelayRange[0], r.DelayRange[1]
	if hi <= lo {
		hi = lo + 1
	}
	base := lo + rand.Intn(hi-lo)
	factor := r.Factor
	if factor < 1 {
		factor = 1
	}
	scale := math.Min(math.Pow(factor, float64(n-1)), 50)
	return time.Duration(float64(base)*scale) * time.Millisecond
}

// JitteredTimeout returns a random duration in [loMs, hiMs), used for the
// per-HTTP-attempt timeout in §4.C7 (500-2000ms by default).
func JitteredTimeout(loMs, hiMs int) time.Duration {
	if hiMs <= loMs {
		hiMs = loMs + 1
	}
	return time.Duration(loMs+rand.Intn(hiMs-loMs)) * time.Millisecond
}
