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

// Package stdio redirects the standard streams of the calling process to a
// file, raw descriptor or handle, or *os.File, and restores them through a
// Guard. The redirection happens at the operating-system level (dup2/dup3 on
// POSIX, SetStdHandle on Windows), so writes that bypass os.Stdout, such as
// the runtime's panic output, are redirected as well.
//
// Overrides of the same stream may be nested, but must be restored in
// reverse order of creation. Restoring out of order is a programming error:
// Reset reports it as ErrOutOfOrderRestore and Release panics.
package stdio

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Kind identifies one of the three standard streams of the process.
type Kind int

const (
	Stdin Kind = iota
	Stdout
	Stderr
)

var kindNames = [...]string{"stdin", "stdout", "stderr"}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("stdio.Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) valid() bool {
	return k >= Stdin && k <= Stderr
}

var (
	// ErrOutOfOrderRestore reports that a guard was restored while a more
	// recently created guard for the same stream was still active.
	ErrOutOfOrderRestore = errors.New("stdio: out-of-order restore of nested override")

	// ErrResolved reports an operation on a guard that has already restored
	// its stream.
	ErrResolved = errors.New("stdio: override already resolved")

	// ErrInvalidKind reports a Kind outside Stdin, Stdout, Stderr.
	ErrInvalidKind = errors.New("stdio: invalid stream kind")
)

// registry orders the live overrides of a single stream. Tokens are handed
// out monotonically and never reused within the life of the process.
type registry struct {
	mu   sync.Mutex
	next uint64
	live []uint64 // tokens of unresolved guards, in creation order
}

var registries [3]registry

func (r *registry) acquire() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.live = append(r.live, r.next)
	return r.next
}

// retire removes token from the live set. It reports ErrOutOfOrderRestore
// when a higher token is still live. The token is retired either way, so a
// violated guard is consumed and does not block later restores.
func (r *registry) retire(token uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	violated := false
	for i := len(r.live) - 1; i >= 0; i-- {
		if r.live[i] > token {
			violated = true
			continue
		}
		if r.live[i] == token {
			r.live = append(r.live[:i], r.live[i+1:]...)
			break
		}
	}
	if violated {
		return fmt.Errorf("%w: a newer override of this stream is still active", ErrOutOfOrderRestore)
	}
	return nil
}

// Override redirects the stream to f. The guard does not take ownership of
// f: the caller remains responsible for closing it, and closing it does not
// disturb the installed stream.
func Override(kind Kind, f *os.File) (*Guard, error) {
	if !kind.valid() {
		return nil, ErrInvalidKind
	}
	return newGuard(kind, f.Fd(), false)
}

// OverrideOwned redirects the stream to f and transfers ownership of f to
// the override: its descriptor is released as part of installation and f
// must not be used afterward.
func OverrideOwned(kind Kind, f *os.File) (*Guard, error) {
	if !kind.valid() {
		return nil, ErrInvalidKind
	}
	g, err := newGuard(kind, f.Fd(), false)
	if err != nil {
		return nil, err
	}
	// The installed slot holds its own reference, so the caller's file can
	// be released immediately. Closing through *os.File rather than the raw
	// descriptor keeps the file's own cleanup from running twice.
	if err := f.Close(); err != nil {
		//nolint:errcheck // best-effort rollback, the close failure is what gets reported
		g.Reset()
		return nil, fmt.Errorf("failed to release %s override target: %w", kind, err)
	}
	return g, nil
}

// OverrideRaw redirects the stream to the given raw descriptor or handle
// without taking ownership of it.
func OverrideRaw(kind Kind, fd uintptr) (*Guard, error) {
	if !kind.valid() {
		return nil, ErrInvalidKind
	}
	return newGuard(kind, fd, false)
}

// OverrideRawOwned redirects the stream to the given raw descriptor or
// handle and takes ownership of it: it is released as part of installation
// and must not be used by the caller afterward.
func OverrideRawOwned(kind Kind, fd uintptr) (*Guard, error) {
	if !kind.valid() {
		return nil, ErrInvalidKind
	}
	return newGuard(kind, fd, true)
}

// OverrideFile redirects the stream to the named file. For Stdout and
// Stderr the file is created if missing and truncated unless WithAppend is
// given. For Stdin the file must exist and is opened read-only.
func OverrideFile(kind Kind, path string, opts ...FileOpt) (*Guard, error) {
	if !kind.valid() {
		return nil, ErrInvalidKind
	}

	options := FileOpts{Mode: 0o644}
	for _, opt := range opts {
		opt(&options)
	}

	var f *os.File
	var err error
	if kind == Stdin {
		f, err = os.Open(path)
	} else {
		flags := os.O_WRONLY | os.O_CREATE
		if options.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err = os.OpenFile(path, flags, options.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s override target: %w", kind, err)
	}
	return OverrideOwned(kind, f)
}

// FileOpts holds the options applied by OverrideFile when opening a target
// for Stdout or Stderr. They have no effect for Stdin.
type FileOpts struct {
	Append bool
	Mode   os.FileMode
}

// FileOpt configures OverrideFile.
type FileOpt func(*FileOpts)

// WithAppend appends to an existing target file instead of truncating it.
func WithAppend() FileOpt {
	return func(opts *FileOpts) {
		opts.Append = true
	}
}

// WithFileMode sets the permission bits used when the target file is
// created. The default is 0o644.
func WithFileMode(mode os.FileMode) FileOpt {
	return func(opts *FileOpts) {
		opts.Mode = mode
	}
}

func newGuard(kind Kind, target uintptr, owned bool) (*Guard, error) {
	original, ps, err := installStream(kind, target, owned)
	if err != nil {
		return nil, err
	}
	return &Guard{
		kind:     kind,
		token:    registries[kind].acquire(),
		original: original,
		ps:       ps,
	}, nil
}
