// Copyright (c) 2016 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT
//
// Linux syscall related stuff goes here.
//
//go:build linux
// +build linux

package disk

import "syscall"

// Constants for syscalls.
const (
	// Parameters to be used by fadvise, from <fcntl.h>.
	POSIX_FADV_RANDOM   = 1
	POSIX_FADV_DONTNEED = 4

	// Disable all atime updates.
	O_NOATIME = syscall.O_NOATIME
)

// Fadvise implements mockFile.
func (f *regularFile) Fadvise(offset int64, length int64, advice int) (err error) {
	// Directly call posix_fadvise as it's not exposed as a normal Go call.
	_, _, e1 := syscall.Syscall6(syscall.SYS_FADVISE64, f.File.Fd(), uintptr(offset), uintptr(length), uintptr(advice), 0, 0)
	if e1 != 0 {
		err = e1
	}
	return
}
