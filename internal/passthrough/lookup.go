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

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"
)

// attrCacheTimeout is how long the kernel may cache an entry's attributes
// or name-to-inode mapping before re-validating, matching the original
// implementation's fixed 1.0 second entry_timeout/attr_timeout.
const attrCacheTimeout = 1 * time.Second

// doLookup resolves name within the directory behind parentFd, opening an
// O_PATH|O_NOFOLLOW descriptor on the child and deduplicating it against
// the inode table by (dev, ino). It is the implementation behind
// LookUpInode, each ReadDirPlus entry, and CreateLink's final lookup of the
// new name; mkdir, mknod, create and symlink run the same open/stat/dedupe
// sequence inside createChild (mknod.go).
//
// On success it returns the child's inode ID with its nlookup already
// incremented, and the raw stat result used to build the ChildInodeEntry.
func (fs *FS) doLookup(parentFd int, name string) (id fuseops.InodeID, st unix.Stat_t, err error) {
	childFd, err := unix.Openat(parentFd, name, unix.O_PATH|unix.O_NOFOLLOW, 0)
	if err != nil {
		return 0, unix.Stat_t{}, err
	}

	if err = unix.Fstatat(childFd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW); err != nil {
		unix.Close(childFd)
		return 0, unix.Stat_t{}, err
	}

	key := devInoFromStat(&st)
	id, dup := fs.inodes.lookupOrInsert(key, childFd)
	if dup {
		unix.Close(childFd)
	}

	return id, st, nil
}

// childInodeEntry builds the ChildInodeEntry the kernel expects back from
// a successful lookup-like op. The expiration times are derived from clock
// rather than time.Now() directly so that tests can use a
// timeutil.SimulatedClock to make cache-expiry behavior deterministic, the
// same role samples/memfs's Clock field plays in the teacher's own tests.
func childInodeEntry(clock timeutil.Clock, id fuseops.InodeID, st *unix.Stat_t) fuseops.ChildInodeEntry {
	now := clock.Now()
	return fuseops.ChildInodeEntry{
		Child:                id,
		Attributes:           attributesFromStat(st),
		AttributesExpiration: now.Add(attrCacheTimeout),
		EntryExpiration:      now.Add(attrCacheTimeout),
	}
}

// attributesFromStat translates a raw unix.Stat_t, as returned by
// fstatat(2), into the fuseops.InodeAttributes the kernel wants.
func attributesFromStat(st *unix.Stat_t) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   uint64(st.Size),
		Nlink:  uint32(st.Nlink),
		Mode:   modeFromStat(st),
		Atime:  time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:  time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:  time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Uid:    st.Uid,
		Gid:    st.Gid,
	}
}

// modeFromStat converts the POSIX mode bits in st_mode into an os.FileMode,
// including the file-type bits the kernel checks lookups and readdir
// against.
func modeFromStat(st *unix.Stat_t) os.FileMode {
	mode := os.FileMode(st.Mode & 0777)

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	}

	return mode
}

// direntType converts a raw d_type byte into the fuseops.DirentType the
// kernel expects in a readdir buffer. DT_UNKNOWN, or any other byte, becomes
// fuseops.DT_Unknown; no stat is made to find the real type.
func direntType(raw uint8) fuseops.DirentType {
	switch raw {
	case unix.DT_DIR:
		return fuseops.DT_Dir
	case unix.DT_REG:
		return fuseops.DT_File
	case unix.DT_LNK:
		return fuseops.DT_Link
	case unix.DT_BLK:
		return fuseops.DT_Block
	case unix.DT_CHR:
		return fuseops.DT_Char
	case unix.DT_FIFO:
		return fuseops.DT_FIFO
	case unix.DT_SOCK:
		return fuseops.DT_Socket
	default:
		return fuseops.DT_Unknown
	}
}
