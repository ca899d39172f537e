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

	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"
)

// createChild performs the common part of mkdir, mknod and create: it
// creates the object in the backing directory, chowns it to the calling
// uid/gid (the credential guard already made the kernel do this implicitly
// via the adopted fsuid/fsgid on most filesystems, but tmpfs-like and
// network filesystems can still default to root without it, so passthrough
// chowns explicitly the way the original implementation's lo_mknod_symlink
// does), and looks it up to mint a ChildInodeEntry. It replies exactly
// once, by returning either a populated entry or an error — never both.
func (fs *FS) createChild(
	parentFd int,
	name string,
	uid, gid uint32,
	create func() error,
) (entry fuseops.ChildInodeEntry, err error) {
	if err = create(); err != nil {
		return fuseops.ChildInodeEntry{}, err
	}

	childFd, err := unix.Openat(parentFd, name, unix.O_PATH|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fuseops.ChildInodeEntry{}, err
	}

	unix.Fchownat(childFd, "", int(uid), int(gid), unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW)

	var st unix.Stat_t
	if err = unix.Fstatat(childFd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW); err != nil {
		unix.Close(childFd)
		unix.Unlinkat(parentFd, name, 0)
		return fuseops.ChildInodeEntry{}, err
	}

	key := devInoFromStat(&st)
	id, dup := fs.inodes.lookupOrInsert(key, childFd)
	if dup {
		unix.Close(childFd)
	}

	return childInodeEntry(fs.clock, id, &st), nil
}

// mkdirChild implements MkDir: mkdirat followed by the shared lookup/chown
// sequence in createChild.
func (fs *FS) mkdirChild(parentFd int, name string, mode os.FileMode, uid, gid uint32) (fuseops.ChildInodeEntry, error) {
	return fs.createChild(parentFd, name, uid, gid, func() error {
		return unix.Mkdirat(parentFd, name, uint32(mode.Perm()))
	})
}

// mknodChild implements MkNode. Per spec section 9's Open Questions, the
// rdev argument is passed straight through to mknodat: mknod is the one
// operation where the caller legitimately wants a device number, unlike
// CreateFile where rdev would only ever be a kernel-side implementation
// accident.
func (fs *FS) mknodChild(parentFd int, name string, mode os.FileMode, rdev uint32, uid, gid uint32) (fuseops.ChildInodeEntry, error) {
	return fs.createChild(parentFd, name, uid, gid, func() error {
		return unix.Mknodat(parentFd, name, fileTypeAndPerm(mode), int(rdev))
	})
}

// symlinkChild implements CreateSymlink.
func (fs *FS) symlinkChild(parentFd int, name, target string, uid, gid uint32) (fuseops.ChildInodeEntry, error) {
	return fs.createChild(parentFd, name, uid, gid, func() error {
		return unix.Symlinkat(target, parentFd, name)
	})
}

// createFileChild implements CreateFile: open with O_CREAT|O_EXCL so that a
// concurrent creator is detected rather than silently handed the same
// backing file, then run it through the shared lookup/chown sequence. The
// open file descriptor returned to the kernel as the new file handle is a
// second, separately-opened fd using the caller's real flags, matching the
// original implementation's separation between the O_PATH anchor and the
// read/write handle.
func (fs *FS) createFileChild(
	parentFd int,
	name string,
	mode os.FileMode,
	flags uint32,
	uid, gid uint32,
) (entry fuseops.ChildInodeEntry, handle int, err error) {
	entry, err = fs.createChild(parentFd, name, uid, gid, func() error {
		fd, cerr := unix.Openat(parentFd, name, int(flags)|unix.O_CREAT|unix.O_EXCL, uint32(mode.Perm()))
		if cerr == nil {
			unix.Close(fd)
		}
		return cerr
	})
	if err != nil {
		return fuseops.ChildInodeEntry{}, 0, err
	}

	handle, err = unix.Openat(parentFd, name, int(flags)&^unix.O_CREAT&^unix.O_EXCL, 0)
	return entry, handle, err
}

// fileTypeAndPerm folds the S_IFMT type bits implied by mode's os.FileMode
// type bits into the numeric mode mknodat expects, since os.FileMode and
// POSIX mode bits disagree on which bits mean "this is a FIFO" etc.
func fileTypeAndPerm(mode os.FileMode) uint32 {
	perm := uint32(mode.Perm())
	switch {
	case mode&os.ModeNamedPipe != 0:
		return unix.S_IFIFO | perm
	case mode&os.ModeSocket != 0:
		return unix.S_IFSOCK | perm
	case mode&os.ModeCharDevice != 0:
		return unix.S_IFCHR | perm
	case mode&os.ModeDevice != 0:
		return unix.S_IFBLK | perm
	default:
		return unix.S_IFREG | perm
	}
}

// link implements CreateLink. link(2) on a symlink reaches this handler
// with the symlink itself as the source; passthrough refuses that with
// EPERM before touching linkat.
func (fs *FS) link(targetFd, newParentFd int, newName string) error {
	var st unix.Stat_t
	if err := unix.Fstatat(targetFd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return unix.EPERM
	}

	err := unix.Linkat(targetFd, "", newParentFd, newName, unix.AT_EMPTY_PATH)
	return linkErrno(err)
}

// unlink implements Unlink and RmDir, which differ only in which syscall
// removes the name.
func unlink(parentFd int, name string, dir bool) error {
	flags := 0
	if dir {
		flags = unix.AT_REMOVEDIR
	}
	return unix.Unlinkat(parentFd, name, flags)
}

// rename implements Rename, refusing any flags this bridge's backing
// renameat(2) cannot express.
func rename(oldParentFd int, oldName string, newParentFd int, newName string, flags uint32) error {
	if err := renameFlagsErrno(flags); err != nil {
		return err
	}
	return unix.Renameat(oldParentFd, oldName, newParentFd, newName)
}
