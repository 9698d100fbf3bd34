// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"syscall"
)

// Win32 errors after which ReadDirectoryChangesW cannot continue.
const (
	errTooManyOpenFiles = syscall.Errno(4)
	errInvalidHandle    = syscall.Errno(6)
	errNotEnoughMemory  = syscall.Errno(8)
)

// unrecoverable reports handle exhaustion, a deleted watch root and buffer
// allocation failure.
func unrecoverable(err error) bool {
	for _, errno := range []syscall.Errno{errTooManyOpenFiles, errInvalidHandle, errNotEnoughMemory} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
