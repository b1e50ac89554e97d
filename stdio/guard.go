// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package stdio

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// Guard represents one active override of a standard stream. It holds a
// duplicate of the stream's previous target and restores it on Reset or
// Release. Until then the guard gives access to the previous target through
// Read, Write, and Fd, so a process that redirected its stdout can still
// reach the original one.
//
// Overrides of the same stream nest, and must be resolved newest first.
type Guard struct {
	kind     Kind
	token    uint64
	original *os.File
	ps       platformState

	mu       sync.Mutex
	resolved bool
}

// Kind reports which standard stream this guard overrides.
func (g *Guard) Kind() Kind { return g.kind }

// Token reports the guard's position in the creation order of overrides for
// its stream. Tokens increase per stream and are never reused.
func (g *Guard) Token() uint64 { return g.token }

// Fd returns the descriptor or handle of the saved previous target. It
// stays valid until the guard resolves.
func (g *Guard) Fd() uintptr { return g.original.Fd() }

// Read reads from the saved previous target. Only meaningful for a Stdin
// guard. Returns an error after the guard has resolved.
func (g *Guard) Read(p []byte) (int, error) {
	return g.original.Read(p)
}

// Write writes to the saved previous target, bypassing the override.
// Returns an error after the guard has resolved.
func (g *Guard) Write(p []byte) (int, error) {
	return g.original.Write(p)
}

// Reset restores the stream to the target saved at creation and releases
// the override target. It reports ErrOutOfOrderRestore if a newer override
// of the same stream is still active, in which case the stream is left
// untouched and the guard is consumed. A second Reset reports ErrResolved.
func (g *Guard) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolved {
		return ErrResolved
	}
	g.resolved = true

	if err := registries[g.kind].retire(g.token); err != nil {
		logger().Error("stdio override restored out of order",
			zap.Stringer("stream", g.kind),
			zap.Uint64("token", g.token))
		g.discard()
		return err
	}
	return restoreStream(g.kind, g.original, g.ps)
}

// Release restores the stream like Reset but has no error channel, making
// it suitable for defer. Failures of the underlying restore are logged
// through the package logger and otherwise discarded. An out-of-order
// release still panics with ErrOutOfOrderRestore: it is a programming
// error, not a runtime condition. Release after Reset is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolved {
		return
	}
	g.resolved = true

	if err := registries[g.kind].retire(g.token); err != nil {
		logger().Error("stdio override released out of order",
			zap.Stringer("stream", g.kind),
			zap.Uint64("token", g.token))
		g.discard()
		panic(err)
	}
	if err := restoreStream(g.kind, g.original, g.ps); err != nil {
		logger().Warn("failed to restore stream on release",
			zap.Stringer("stream", g.kind),
			zap.Uint64("token", g.token),
			zap.Error(err))
	}
}

// discard consumes a violated guard without touching the installed stream.
// Only the saved duplicate is released; the override target stays live
// because a newer guard still references this override's chain.
func (g *Guard) discard() {
	//nolint:errcheck // nothing useful to do with a close error here
	g.original.Close()
}
