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

package stdio_test

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/stdio-override/stdio"
	"github.com/elastic/stdio-override/stdio/stdiotest"
)

// These tests swap the process's real standard streams and must not run in
// parallel with anything.

func TestKindString(t *testing.T) {
	assert.Equal(t, "stdin", stdio.Stdin.String())
	assert.Equal(t, "stdout", stdio.Stdout.String())
	assert.Equal(t, "stderr", stdio.Stderr.String())
	assert.Equal(t, "stdio.Kind(7)", stdio.Kind(7).String())
}

func TestInvalidKind(t *testing.T) {
	_, err := stdio.OverrideFile(stdio.Kind(7), stdiotest.FilePath(t))
	assert.ErrorIs(t, err, stdio.ErrInvalidKind)

	_, err = stdio.OverrideRaw(stdio.Kind(-1), 0)
	assert.ErrorIs(t, err, stdio.ErrInvalidKind)
}

func TestStdoutFileRoundTrip(t *testing.T) {
	path := stdiotest.FilePath(t)

	guard, err := stdio.OverrideFile(stdio.Stdout, path)
	require.NoError(t, err)

	fmt.Print("redirected to a file")

	require.NoError(t, guard.Reset())
	assert.Equal(t, "redirected to a file", stdiotest.ReadFile(t, path))
}

func TestStderrFileRoundTrip(t *testing.T) {
	path := stdiotest.FilePath(t)

	guard, err := stdio.OverrideFile(stdio.Stderr, path)
	require.NoError(t, err)

	fmt.Fprint(os.Stderr, "stderr goes here")

	require.NoError(t, guard.Reset())
	assert.Equal(t, "stderr goes here", stdiotest.ReadFile(t, path))
}

// TestRestoration checks that resolving an override brings back the target
// that was installed immediately before it was created, not necessarily the
// process original.
func TestRestoration(t *testing.T) {
	r, w := stdiotest.Pipe(t)

	outer, err := stdio.Override(stdio.Stdout, w)
	require.NoError(t, err)

	path := stdiotest.FilePath(t)
	inner, err := stdio.OverrideFile(stdio.Stdout, path)
	require.NoError(t, err)

	fmt.Print("inner")
	require.NoError(t, inner.Reset())

	fmt.Print("outer")
	require.NoError(t, outer.Reset())

	// The borrowed pipe is still the caller's to close.
	require.NoError(t, w.Close())

	assert.Equal(t, "inner", stdiotest.ReadFile(t, path))
	assert.Equal(t, "outer", stdiotest.Drain(t, r))
}

func TestStdinFromFile(t *testing.T) {
	first, pw := stdiotest.Pipe(t)
	_, err := pw.WriteString("first line\n")
	require.NoError(t, err)

	outer, err := stdio.Override(stdio.Stdin, first)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "in.txt")
	stdiotest.WriteFile(t, path, "12345\n")

	inner, err := stdio.OverrideFile(stdio.Stdin, path)
	require.NoError(t, err)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "12345\n", line)

	require.NoError(t, inner.Reset())

	// After the reset, stdin observes the previous source again.
	line, err = bufio.NewReader(os.Stdin).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "first line\n", line)

	require.NoError(t, outer.Reset())
}

func TestStdinFileMustExist(t *testing.T) {
	_, err := stdio.OverrideFile(stdio.Stdin, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOwnedFileIsReleased(t *testing.T) {
	path := stdiotest.FilePath(t)
	f, err := os.Create(path)
	require.NoError(t, err)

	guard, err := stdio.OverrideOwned(stdio.Stdout, f)
	require.NoError(t, err)

	// Ownership transferred: the caller's file is already closed.
	assert.ErrorIs(t, f.Close(), os.ErrClosed)

	fmt.Print("owned")
	require.NoError(t, guard.Reset())
	assert.Equal(t, "owned", stdiotest.ReadFile(t, path))
}

func TestBorrowedFileStaysUsable(t *testing.T) {
	r, w := stdiotest.Pipe(t)

	guard, err := stdio.Override(stdio.Stdout, w)
	require.NoError(t, err)

	fmt.Print("via stdout ")
	require.NoError(t, guard.Reset())

	// The caller's end survived the override and the restore.
	_, err = w.WriteString("via the borrowed pipe")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "via stdout via the borrowed pipe", stdiotest.Drain(t, r))
}

// TestNestedOverrides creates three nested stdout overrides and resolves
// them newest first, checking after each step that writes land in the
// next-older target.
func TestNestedOverrides(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "a")
	pathB := filepath.Join(t.TempDir(), "b")
	pathC := filepath.Join(t.TempDir(), "c")

	g0, err := stdio.OverrideFile(stdio.Stdout, pathA)
	require.NoError(t, err)
	fmt.Print("a1;")

	g1, err := stdio.OverrideFile(stdio.Stdout, pathB)
	require.NoError(t, err)
	fmt.Print("b1;")

	g2, err := stdio.OverrideFile(stdio.Stdout, pathC)
	require.NoError(t, err)
	fmt.Print("c1;")

	assert.True(t, g1.Token() > g0.Token())
	assert.True(t, g2.Token() > g1.Token())

	require.NoError(t, g2.Reset())
	fmt.Print("b2;")

	require.NoError(t, g1.Reset())
	fmt.Print("a2;")

	require.NoError(t, g0.Reset())

	assert.Equal(t, "a1;a2;", stdiotest.ReadFile(t, pathA))
	assert.Equal(t, "b1;b2;", stdiotest.ReadFile(t, pathB))
	assert.Equal(t, "c1;", stdiotest.ReadFile(t, pathC))
}

// TestOutOfOrderReset resolves the middle of three nested overrides first.
// The violation must fire exactly once, on the middle guard, and leave the
// newest and oldest guards independently resolvable.
func TestOutOfOrderReset(t *testing.T) {
	g0, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)
	g1, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)
	g2, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)

	err = g1.Reset()
	require.ErrorIs(t, err, stdio.ErrOutOfOrderRestore)

	// The violated guard is consumed, not retriable.
	assert.ErrorIs(t, g1.Reset(), stdio.ErrResolved)

	require.NoError(t, g2.Reset())
	require.NoError(t, g0.Reset())
}

func TestResetTwice(t *testing.T) {
	guard, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)

	require.NoError(t, guard.Reset())
	assert.ErrorIs(t, guard.Reset(), stdio.ErrResolved)
}

func TestReleaseAfterReset(t *testing.T) {
	guard, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)

	require.NoError(t, guard.Reset())
	assert.NotPanics(t, guard.Release)
}

func TestReleaseRestores(t *testing.T) {
	path := stdiotest.FilePath(t)

	guard, err := stdio.OverrideFile(stdio.Stdout, path)
	require.NoError(t, err)

	fmt.Print("released")
	guard.Release()

	assert.Equal(t, "released", stdiotest.ReadFile(t, path))
}

// TestReleasePanicsOutOfOrder releases an older guard while a newer one is
// live. A sentinel override shields the real stdout: the violated guard's
// saved duplicate is consumed, so without the sentinel the process would
// lose its original stdout for good.
func TestReleasePanicsOutOfOrder(t *testing.T) {
	_, w := stdiotest.Pipe(t)
	sentinel, err := stdio.Override(stdio.Stdout, w)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sentinel.Reset())
	}()

	g0, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)
	g1, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)

	assert.Panics(t, g0.Release)
	assert.NotPanics(t, g1.Release)
}

func TestStreamsAreIndependent(t *testing.T) {
	outGuard, err := stdio.OverrideFile(stdio.Stdout, stdiotest.FilePath(t))
	require.NoError(t, err)
	errGuard, err := stdio.OverrideFile(stdio.Stderr, stdiotest.FilePath(t))
	require.NoError(t, err)

	// Stderr was overridden after stdout, but each stream keeps its own
	// ordering, so resolving stdout first is fine.
	require.NoError(t, outGuard.Reset())
	require.NoError(t, errGuard.Reset())
}

// TestGuardWriteBypassesOverride checks that writing through the guard
// reaches the stream target saved at creation time.
func TestGuardWriteBypassesOverride(t *testing.T) {
	rA, wA := stdiotest.Pipe(t)
	outer, err := stdio.Override(stdio.Stdout, wA)
	require.NoError(t, err)

	rB, wB := stdiotest.Pipe(t)
	inner, err := stdio.Override(stdio.Stdout, wB)
	require.NoError(t, err)

	assert.Equal(t, stdio.Stdout, inner.Kind())

	// The guard's writer side is the target stdout had before this
	// override, which is the outer pipe.
	_, err = inner.Write([]byte("through the guard"))
	require.NoError(t, err)

	fmt.Print("through stdout")

	require.NoError(t, inner.Reset())
	require.NoError(t, outer.Reset())
	require.NoError(t, wA.Close())
	require.NoError(t, wB.Close())

	assert.Equal(t, "through the guard", stdiotest.Drain(t, rA))
	assert.Equal(t, "through stdout", stdiotest.Drain(t, rB))
}

func TestOverrideFileAppend(t *testing.T) {
	path := stdiotest.FilePath(t)
	stdiotest.WriteFile(t, path, "kept;")

	guard, err := stdio.OverrideFile(stdio.Stdout, path, stdio.WithAppend())
	require.NoError(t, err)

	fmt.Print("appended")
	require.NoError(t, guard.Reset())

	assert.Equal(t, "kept;appended", stdiotest.ReadFile(t, path))
}

func TestOverrideFileTruncatesByDefault(t *testing.T) {
	path := stdiotest.FilePath(t)
	stdiotest.WriteFile(t, path, "stale contents")

	guard, err := stdio.OverrideFile(stdio.Stdout, path)
	require.NoError(t, err)

	fmt.Print("fresh")
	require.NoError(t, guard.Reset())

	assert.Equal(t, "fresh", stdiotest.ReadFile(t, path))
}
