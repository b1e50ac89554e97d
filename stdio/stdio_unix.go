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

//go:build !windows && !plan9
// +build !windows,!plan9

package stdio

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// POSIX needs no per-override platform state: the descriptor numbers 0, 1,
// and 2 are the standard-stream slots themselves, and dup2-style install
// gives the slot its own reference to the target.
type platformState struct{}

func slotFd(kind Kind) int {
	switch kind {
	case Stdin:
		return 0
	case Stdout:
		return 1
	default:
		return 2
	}
}

// installStream duplicates the current stream as the saved original,
// installs target into the standard-stream slot, and, when owned, releases
// the caller's descriptor. The slot keeps its own reference either way.
func installStream(kind Kind, target uintptr, owned bool) (*os.File, platformState, error) {
	slot := slotFd(kind)

	saved, err := unix.Dup(slot)
	if err != nil {
		return nil, platformState{}, fmt.Errorf("failed to duplicate %s: %w", kind, err)
	}
	if err := dupTo(int(target), slot); err != nil {
		//nolint:errcheck // the saved duplicate is all we have to clean up
		unix.Close(saved)
		return nil, platformState{}, fmt.Errorf("failed to install %s override: %w", kind, err)
	}
	if owned {
		if err := unix.Close(int(target)); err != nil {
			//nolint:errcheck // no guard exists yet to carry the duplicate
			unix.Close(saved)
			return nil, platformState{}, fmt.Errorf("failed to release %s override target: %w", kind, err)
		}
	}
	return os.NewFile(uintptr(saved), "original "+kind.String()), platformState{}, nil
}

// restoreStream reinstalls the saved original into the slot and releases
// the duplicate. The superseded target's description is dropped by the
// dup2-style install itself.
func restoreStream(kind Kind, original *os.File, _ platformState) error {
	var errs *multierror.Error
	if err := dupTo(int(original.Fd()), slotFd(kind)); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to restore %s: %w", kind, err))
	}
	if err := original.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to release saved %s duplicate: %w", kind, err))
	}
	return errs.ErrorOrNil()
}
