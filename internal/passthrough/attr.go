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
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// getAttr implements GetInodeAttributes: a single fstatat with AT_EMPTY_PATH
// and AT_SYMLINK_NOFOLLOW against the inode's O_PATH descriptor, never
// following the object even if it is itself a symlink.
func getAttr(fd int) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstatat(fd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW)
	return st, err
}

// setAttr implements SetInodeAttributes. Each of size, mode, atime and
// mtime is applied only if the corresponding pointer is non-nil, matching
// the kernel's convention of only filling in the fields it actually wants
// changed. It applies size first, then mode, then times, mirroring the
// order chmod(2)/truncate(2)/utimensat(2) would naturally be issued in, and
// returns the first error encountered without attempting the remaining
// changes.
func setAttr(fd int, size *uint64, mode *os.FileMode, atime, mtime *time.Time) error {
	if size != nil {
		if err := unix.Truncate(procSelfFd(fd), int64(*size)); err != nil {
			return err
		}
	}

	if mode != nil {
		if err := unix.Chmod(procSelfFd(fd), uint32(mode.Perm())); err != nil {
			return err
		}
	}

	if atime != nil || mtime != nil {
		times := [2]unix.Timespec{
			{Sec: 0, Nsec: unix.UTIME_OMIT},
			{Sec: 0, Nsec: unix.UTIME_OMIT},
		}
		if atime != nil {
			times[0] = unix.NsecToTimespec(atime.UnixNano())
		}
		if mtime != nil {
			times[1] = unix.NsecToTimespec(mtime.UnixNano())
		}

		// As in the original implementation's utimensat_empty_nofollow, a
		// symlink is addressed through its own O_PATH descriptor with
		// AT_EMPTY_PATH|AT_SYMLINK_NOFOLLOW, where an EINVAL from the kernel
		// is remapped to EPERM by utimeErrno; any other object goes through
		// /proc/self/fd/<fd>, which resolves to the object itself.
		var st unix.Stat_t
		if err := unix.Fstatat(fd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return err
		}
		if st.Mode&unix.S_IFMT == unix.S_IFLNK {
			return utimeErrno(unix.UtimesNanoAt(fd, "", times[:], unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW))
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, procSelfFd(fd), times[:], 0); err != nil {
			return err
		}
	}

	return nil
}

// readSymlink implements ReadSymlink. If target fills the buffer exactly,
// the real target may have been silently truncated; readlinkErrno turns
// that case into ENAMETOOLONG rather than returning a value that might be
// wrong.
func readSymlink(fd int) (string, error) {
	buf := make([]byte, pathMax)
	n, err := unix.Readlinkat(fd, "", buf)
	if err != nil {
		return "", err
	}
	if err := readlinkErrno(n, len(buf)); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// removeXattr implements RemoveXattr. xattr syscalls have no *at(2) variant
// that accepts an O_PATH fd with AT_EMPTY_PATH, so passthrough goes through
// /proc/self/fd as with setattr's time handling. A symlink target refuses
// with EPERM rather than silently operating on whatever the link points at.
func removeXattr(fd int, name string) error {
	var st unix.Stat_t
	if err := unix.Fstatat(fd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return unix.EPERM
	}

	return unix.Removexattr(procSelfFd(fd), name)
}

// statFS implements StatFS via fstatfs on the root inode's descriptor,
// matching the original implementation's use of fstatvfs on its root fd.
func statFS(rootFd int) (unix.Statfs_t, error) {
	var st unix.Statfs_t
	err := unix.Fstatfs(rootFd, &st)
	return st, err
}
