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

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pathMax bounds the buffer used to recover a path via readlink(2) on
// /proc/self/fd/<fd>, matching PATH_MAX on Linux.
const pathMax = 4096

// procSelfFd renders the /proc/self/fd/<fd> indirection path used for every
// path-taking syscall in this package. Passthrough never has a real path for
// an inode once it has been looked up: the only stable handle is the O_PATH
// descriptor opened at lookup time, and /proc/self/fd lets the kernel
// resolve that descriptor back into a path argument for calls (rename,
// chmod by path, etc.) that don't have an *at(2) sibling taking a bare fd.
func procSelfFd(fd int) string {
	return fmt.Sprintf("/proc/self/fd/%d", fd)
}

// realPath recovers the current path of the object behind fd by reading the
// /proc/self/fd/<fd> symlink. The backing object may have been renamed or
// unlinked since fd was opened; on Linux this still returns the kernel's
// best-effort rendering (possibly suffixed with " (deleted)"), which is
// exactly what readlink(2) on procfs does. Nothing in this package calls it
// at present; mkdir's post-creation chown uses fchownat on the descriptor.
func realPath(fd int) (string, error) {
	buf := make([]byte, pathMax)
	n, err := unix.Readlink(procSelfFd(fd), buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
