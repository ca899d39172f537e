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
	"encoding/binary"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// rawDirent is one entry read straight out of a getdents64(2) buffer: the
// real on-disk inode number, the opaque seek cookie the kernel uses for its
// own d_off bookkeeping, and the file type, none of which os.File.ReadDir
// exposes without an extra stat(2) per entry. Passthrough needs exactly
// these three fields (plus the name) to answer readdir without synthesizing
// them, per the directory iteration component.
type rawDirent struct {
	ino  uint64
	off  int64
	typ  uint8
	name string
}

const (
	directBlockSize = 32 * 1024

	direntInoOff    = 0
	direntOffOff    = 8
	direntReclenOff = 16
	direntTypeOff   = 18
	direntNameOff   = 19
)

// parseDirents walks a getdents64 buffer and returns each entry it holds.
// The struct layout (linux_dirent64) is fixed up to the name field:
//
//	ino     uint64 @0
//	off     int64  @8
//	reclen  uint16 @16
//	typ     uint8  @18
//	name    [...]byte @19, NUL-terminated, then padding to reclen
//
// There is no x/sys/unix helper that exposes ino/off/type (unix.ParseDirent
// only recovers names), so this package parses the fixed-offset header
// fields itself; the buffer is always host byte order on Linux.
func parseDirents(buf []byte) []rawDirent {
	var out []rawDirent
	pos := 0
	for pos+direntNameOff <= len(buf) {
		reclen := int(binary.LittleEndian.Uint16(buf[pos+direntReclenOff : pos+direntReclenOff+2]))
		if reclen <= 0 || pos+reclen > len(buf) {
			break
		}

		ino := binary.LittleEndian.Uint64(buf[pos+direntInoOff : pos+direntInoOff+8])
		off := int64(binary.LittleEndian.Uint64(buf[pos+direntOffOff : pos+direntOffOff+8]))
		typ := buf[pos+direntTypeOff]

		nameBytes := buf[pos+direntNameOff : pos+reclen]
		if i := indexNUL(nameBytes); i >= 0 {
			nameBytes = nameBytes[:i]
		}

		out = append(out, rawDirent{ino: ino, off: off, typ: typ, name: string(nameBytes)})
		pos += reclen
	}
	return out
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// dirIterator wraps one open directory fd with resumable, offset-driven
// iteration, mirroring the opendir/readdir/seekdir/telldir sequence the
// original implementation uses via libc. Each rawDirent's off field is the
// kernel's own d_off cookie, which doubles as the FUSE ReadDirOp.Offset the
// kernel will echo back on a later call (possibly after closing and
// reopening the directory handle entirely): seeking the fd to that value
// before reading reproduces the exact position, exactly as seekdir does.
type dirIterator struct {
	mu      sync.Mutex
	fd      int
	buf     []byte
	pending []rawDirent
	idx     int
	lastOff int64
	atEOF   bool
}

func newDirIterator(fd int) *dirIterator {
	return &dirIterator{fd: fd, buf: make([]byte, directBlockSize), lastOff: -1}
}

// seekTo repositions the stream so that the next call to next returns the
// entry following the given resume offset. A no-op if already positioned
// there, so that sequential reads (the overwhelmingly common case) never
// pay for an lseek(2) round trip.
func (d *dirIterator) seekTo(offset int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if offset == d.lastOff {
		return nil
	}

	if _, err := unix.Seek(d.fd, offset, 0); err != nil {
		return err
	}

	d.lastOff = offset
	d.pending = nil
	d.idx = 0
	d.atEOF = false
	return nil
}

// next returns the next entry in the stream, or ok == false at end of
// directory.
func (d *dirIterator) next() (entry rawDirent, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.idx >= len(d.pending) {
		if d.atEOF {
			return rawDirent{}, false, nil
		}

		n, rerr := unix.ReadDirent(d.fd, d.buf)
		if rerr != nil {
			return rawDirent{}, false, rerr
		}
		if n == 0 {
			d.atEOF = true
			return rawDirent{}, false, nil
		}

		d.pending = parseDirents(d.buf[:n])
		d.idx = 0
		if len(d.pending) == 0 {
			d.atEOF = true
			return rawDirent{}, false, nil
		}
	}

	entry = d.pending[d.idx]
	d.idx++
	d.lastOff = entry.off
	return entry, true, nil
}

func (d *dirIterator) close() error {
	return unix.Close(d.fd)
}

// doReadDir implements non-plus ReadDir: for each entry, append a minimal
// record using only the entry's real inode number and type, never
// performing a lookup or touching nlookup. getdents64 does return "." and
// "..", but they are skipped here without being written.
func (fs *FS) doReadDir(handle fuseops.HandleID, offset int64, dst []byte, bytesRead *int) error {
	it, ok := fs.handle.dir(handle)
	if !ok {
		return unix.EBADF
	}

	if err := it.seekTo(offset); err != nil {
		return errnoOrNil(err)
	}

	*bytesRead = 0
	for {
		raw, ok, err := it.next()
		if err != nil {
			return errnoOrNil(err)
		}
		if !ok {
			return nil
		}
		if raw.name == "." || raw.name == ".." {
			continue
		}

		d := fuseops.Dirent{
			Offset: fuseops.DirOffset(raw.off),
			Inode:  fuseops.InodeID(raw.ino),
			Name:   raw.name,
			Type:   direntType(raw.typ),
		}

		n := fuseutil.WriteDirent(dst[*bytesRead:], d)
		if n == 0 {
			// Doesn't fit; leave it for the next call at this offset.
			return nil
		}
		*bytesRead += n
	}
}

// doReadDirPlus implements ReadDirPlus: like doReadDir, but each entry also
// carries a full ChildInodeEntry, obtained via the same lookup path used by
// LookUpInode, and bumps nlookup exactly as a real lookup would. If an
// entry's plus-encoded form doesn't fit in the remaining buffer, its
// nlookup increment must be undone before returning, since the kernel will
// never see that entry and so will never forget it.
func (fs *FS) doReadDirPlus(op *fuseops.ReadDirPlusOp) error {
	it, ok := fs.handle.dir(op.Handle)
	if !ok {
		return unix.EBADF
	}

	parentFd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}

	if err := it.seekTo(int64(op.Offset)); err != nil {
		return errnoOrNil(err)
	}

	op.BytesRead = 0
	for {
		raw, ok, err := it.next()
		if err != nil {
			return errnoOrNil(err)
		}
		if !ok {
			return nil
		}
		if raw.name == "." || raw.name == ".." {
			continue
		}

		id, st, lerr := fs.doLookup(parentFd, raw.name)
		if lerr != nil {
			// The entry may have been removed between getdents64 and this
			// lookup; skip it rather than failing the whole readdirplus.
			continue
		}

		entry := fuseutil.DirentPlus{
			Dirent: fuseops.Dirent{
				Offset: fuseops.DirOffset(raw.off),
				Inode:  id,
				Name:   raw.name,
				Type:   direntType(raw.typ),
			},
			Entry: childInodeEntry(fs.clock, id, &st),
		}

		n := fuseutil.WriteDirentPlus(op.Dst[op.BytesRead:], entry)
		if n == 0 {
			fs.inodes.forget(id, 1)
			return nil
		}
		op.BytesRead += n
	}
}
