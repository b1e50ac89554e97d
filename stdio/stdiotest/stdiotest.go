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

// Package stdiotest provides helpers for tests that override standard
// streams: throwaway file and pipe targets, and read-back shortcuts.
package stdiotest

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// FilePath returns a path for an override target file inside a directory
// that is removed when the test ends. The file itself is not created.
func FilePath(tb testing.TB) string {
	tb.Helper()
	return filepath.Join(tb.TempDir(), "target")
}

// Pipe returns both ends of an os.Pipe. The ends are closed when the test
// ends unless the test closed them first.
func Pipe(tb testing.TB) (r, w *os.File) {
	tb.Helper()

	r, w, err := os.Pipe()
	require.NoError(tb, err, "failed to create pipe target")
	tb.Cleanup(func() {
		//nolint:errcheck // tests may legitimately close these themselves
		r.Close()
		//nolint:errcheck
		w.Close()
	})
	return r, w
}

// ReadFile returns the contents of path as a string, failing the test on
// error.
func ReadFile(tb testing.TB, path string) string {
	tb.Helper()

	data, err := os.ReadFile(path)
	require.NoError(tb, err, "failed to read back override target")
	return string(data)
}

// WriteFile creates path with the given contents, failing the test on
// error. Useful to seed a Stdin override target.
func WriteFile(tb testing.TB, path, contents string) {
	tb.Helper()
	require.NoError(tb, os.WriteFile(path, []byte(contents), 0o644))
}

// Drain reads r to EOF and returns what was read as a string. The write
// side must be closed first or Drain will block.
func Drain(tb testing.TB, r io.Reader) string {
	tb.Helper()

	var buf bytes.Buffer
	_, err := io.Copy(&buf, r)
	require.NoError(tb, err, "failed to drain pipe target")
	return buf.String()
}
