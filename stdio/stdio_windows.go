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

//go:build windows
// +build windows

package stdio

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/windows"
)

// Windows tracks two things POSIX does not need: the handle occupying the
// standard-handle slot (SetStdHandle stores the handle value itself, so the
// slot owns nothing and someone must close the handle on restore), and the
// os.Std* variable displaced by the override (Go caches the startup handles
// in os.Stdin/Stdout/Stderr, so swapping the slot alone would leave
// fmt.Print and friends writing to the old stream).
type platformState struct {
	installed *os.File // occupies the slot; released on restore
	prev      *os.File // os.Std* value displaced by this override
}

func slotID(kind Kind) uint32 {
	switch kind {
	case Stdin:
		return windows.STD_INPUT_HANDLE
	case Stdout:
		return windows.STD_OUTPUT_HANDLE
	default:
		return windows.STD_ERROR_HANDLE
	}
}

func currentStd(kind Kind) *os.File {
	switch kind {
	case Stdin:
		return os.Stdin
	case Stdout:
		return os.Stdout
	default:
		return os.Stderr
	}
}

func setStd(kind Kind, f *os.File) {
	switch kind {
	case Stdin:
		os.Stdin = f
	case Stdout:
		os.Stdout = f
	default:
		os.Stderr = f
	}
}

// dupMatched duplicates h with the same access rights and the same
// inheritance flag as the source handle.
func dupMatched(h windows.Handle) (windows.Handle, error) {
	var flags uint32
	if err := windows.GetHandleInformation(h, &flags); err != nil {
		return windows.InvalidHandle, err
	}
	proc := windows.CurrentProcess()

	var out windows.Handle
	inherit := flags&windows.HANDLE_FLAG_INHERIT != 0
	if err := windows.DuplicateHandle(proc, h, proc, &out, 0, inherit, windows.DUPLICATE_SAME_ACCESS); err != nil {
		return windows.InvalidHandle, err
	}
	return out, nil
}

// installStream saves an independent duplicate of the current stream,
// installs target into the standard-handle slot, and rebinds the matching
// os.Std* variable. Borrowed targets are installed as a duplicate, so a
// later close of the caller's handle cannot corrupt the slot. Owned targets
// are installed directly; the slot takes the handle itself.
func installStream(kind Kind, target uintptr, owned bool) (*os.File, platformState, error) {
	slot := slotID(kind)

	cur, err := windows.GetStdHandle(slot)
	if err != nil {
		return nil, platformState{}, fmt.Errorf("failed to query current %s handle: %w", kind, err)
	}
	saved, err := dupMatched(cur)
	if err != nil {
		return nil, platformState{}, fmt.Errorf("failed to duplicate %s: %w", kind, err)
	}

	install := windows.Handle(target)
	if !owned {
		install, err = dupMatched(install)
		if err != nil {
			//nolint:errcheck // already failing, nothing to report the close against
			windows.CloseHandle(saved)
			return nil, platformState{}, fmt.Errorf("failed to duplicate %s override target: %w", kind, err)
		}
	}

	if err := windows.SetStdHandle(slot, install); err != nil {
		if !owned {
			//nolint:errcheck
			windows.CloseHandle(install)
		}
		//nolint:errcheck
		windows.CloseHandle(saved)
		return nil, platformState{}, fmt.Errorf("failed to install %s override: %w", kind, err)
	}

	installed := os.NewFile(uintptr(install), kind.String())
	ps := platformState{installed: installed, prev: currentStd(kind)}
	setStd(kind, installed)

	return os.NewFile(uintptr(saved), "original "+kind.String()), ps, nil
}

// restoreStream reinstalls a duplicate of the saved original, releases the
// superseded override target, and puts the displaced os.Std* variable back.
// Installing a duplicate lets the saved file close normally afterward
// without invalidating the slot.
func restoreStream(kind Kind, original *os.File, ps platformState) error {
	restored, err := dupMatched(windows.Handle(original.Fd()))
	if err != nil {
		//nolint:errcheck // the stream stays overridden; the duplicate is all we can release
		original.Close()
		return fmt.Errorf("failed to duplicate saved %s: %w", kind, err)
	}

	var errs *multierror.Error
	if err := windows.SetStdHandle(slotID(kind), restored); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to restore %s: %w", kind, err))
		//nolint:errcheck
		windows.CloseHandle(restored)
	} else {
		setStd(kind, ps.prev)
		// Only release the superseded target once it is out of the slot.
		if err := ps.installed.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to release %s override target: %w", kind, err))
		}
	}
	if err := original.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to release saved %s duplicate: %w", kind, err))
	}
	return errs.ErrorOrNil()
}
