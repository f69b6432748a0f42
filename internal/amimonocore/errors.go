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
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind distinguishes the three shapes an RpcError can take.
type ErrorKind string

const (
	KindSpurious   ErrorKind = "spurious"
	KindMisc       ErrorKind = "misc"
	KindDownstream ErrorKind = "downstream"
)

// RpcError is the structured error value that crosses the wire in both
// directions: handler failures are serialized as one, and the client
// deserializes the same shape out of a non-200 response body.
type RpcError struct {
	Kind ErrorKind `json:"kind"`
	Msg  string    `json:"msg,omitempty"`
	At   string    `json:"at,omitempty"`
	// Inner is only populated for Kind == KindDownstream.
	Inner *RpcError `json:"inner,omitempty"`

	// cause is the local Go error this value was built from, if any. It is
	// never serialized; it exists so local callers keep a stack via
	// github.com/pkg/errors for debugging without affecting the wire shape.
	cause error `json:"-"`
}

// Spurious builds a retryable error from a message.
func Spurious(format string, args ...interface{}) *RpcError {
	return &RpcError{Kind: KindSpurious, Msg: fmt.Sprintf(format, args...)}
}

// SpuriousFrom wraps a Go error as a retryable error, keeping its stack.
func SpuriousFrom(err error, format string, args ...interface{}) *RpcError {
	return &RpcError{Kind: KindSpurious, Msg: fmt.Sprintf(format, args...), cause: errors.Wrap(err, "spurious")}
}

// Misc builds a non-retryable, unclassified error from a message.
func Misc(format string, args ...interface{}) *RpcError {
	return &RpcError{Kind: KindMisc, Msg: fmt.Sprintf(format, args...)}
}

// MiscFrom wraps a Go error as a non-retryable error, keeping its stack.
func MiscFrom(err error, format string, args ...interface{}) *RpcError {
	return &RpcError{Kind: KindMisc, Msg: fmt.Sprintf(format, args...), cause: errors.Wrap(err, "misc")}
}

// Downstream annotates inner with the label of the component that produced
// or forwarded it. Retryability propagates from inner.
func Downstream(atLabel string, inner *RpcError) *RpcError {
	if inner == nil {
		inner = Misc("nil downstream cause")
	}
	return &RpcError{Kind: KindDownstream, At: atLabel, Inner: inner}
}

// Error implements the error interface.
func (e *RpcError) Error() string {
	switch e.Kind {
	case KindDownstream:
		return fmt.Sprintf("downstream error at %q: %v", e.At, e.Inner)
	default:
		return e.Msg
	}
}

// Retryable reports whether this error should be retried by the client's
// retry policy. Only Spurious is retryable by default; Downstream inherits
// its inner error's retryability.
func (e *RpcError) Retryable() bool {
	switch e.Kind {
	case KindSpurious:
		return true
	case KindDownstream:
		return e.Inner.Retryable()
	default:
		return false
	}
}

// RootCause unwraps every Downstream layer and returns the innermost error.
func (e *RpcError) RootCause() *RpcError {
	cur := e
	for cur.Kind == KindDownstream && cur.Inner != nil {
		cur = cur.Inner
	}
	return cur
}

// CallChain returns the ordered list of component labels a Downstream error
// was wrapped through, outermost first.
func (e *RpcError) CallChain() []string {
	var chain []string
	cur := e
	for cur.Kind == KindDownstream {
		chain = append(chain, cur.At)
		cur = cur.Inner
	}
	return chain
}

// AsRpcError extracts an *RpcError from a Go error, classifying anything
// that isn't already one. Transport-level deadline/timeout errors map to
// Spurious; everything else maps to Misc, matching §4.C9's conversion
// rules for client/server/JSON/IO failures.
func AsRpcError(err error) *RpcError {
	if err == nil {
		return nil
	}
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if isTimeout(err) {
		return SpuriousFrom(err, "%v", err)
	}
	return MiscFrom(err, "%v", err)
}

func isTimeout(err error) bool {
	type timeout interface {
		Timeout() bool
	}
	for err != nil {
		if t, ok := err.(timeout); ok && t.Timeout() {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
