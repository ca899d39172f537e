// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package passthrough

import "golang.org/x/sys/unix"

// errnoOrNil turns a raw syscall error into the syscall.Errno value the
// fuse package treats specially when returned from a FileSystem method, or
// nil if err is nil. Every handler in this package funnels its backing
// syscall error through one of the functions in this file rather than
// returning err directly, so that the handful of FUSE-specific remappings
// below happen in exactly one place.
func errnoOrNil(err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}

// utimeErrno maps the result of futimens/utimensat for a setattr time
// update. The kernel returns EINVAL when asked to set times through the
// empty-path + AT_SYMLINK_NOFOLLOW combination on a symlink; passthrough
// reports that as EPERM instead, matching utimensat_empty_nofollow in the
// original implementation.
func utimeErrno(err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok && errno == unix.EINVAL {
		return unix.EPERM
	}
	return errnoOrNil(err)
}

// linkErrno maps the result of a link(2) attempt whose source is itself a
// symlink. linkat with AT_EMPTY_PATH on a symlink's O_PATH descriptor
// returns EINVAL; passthrough reports that as EPERM, matching
// linkat_empty_nofollow in the original implementation, and independently
// refuses link requests whose source inode is a symlink before ever calling
// linkat (see mknod.go).
func linkErrno(err error) error {
	return utimeErrno(err)
}

// readlinkErrno maps readlinkat filling the destination buffer exactly full
// to ENAMETOOLONG: a full buffer means the real target may have been
// truncated, and there is no way to tell without retrying with a larger
// buffer, which passthrough does not do (the original implementation gives
// up and reports the same error).
func readlinkErrno(n, bufSize int) error {
	if n == bufSize {
		return unix.ENAMETOOLONG
	}
	return nil
}

// renameFlagsErrno refuses any RENAME_* flags this bridge does not support.
// The backing renameat(2) syscall (not renameat2) has no flags argument at
// all, so any nonzero flags value is rejected up front with EINVAL rather
// than silently ignored.
func renameFlagsErrno(flags uint32) error {
	if flags != 0 {
		return unix.EINVAL
	}
	return nil
}
