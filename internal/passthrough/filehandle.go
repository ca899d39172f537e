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
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// fileHandle is the open-file-table record behind a fuseops.HandleID
// returned from CreateFile or OpenFile. Unlike the inode's O_PATH
// descriptor, this fd is opened with the caller's real flags (O_RDONLY,
// O_WRONLY, O_APPEND, ...) and is used directly for pread/pwrite/fsync.
type fileHandle struct {
	fd int
}

// handleTable hands out fuseops.HandleID values for both open files and
// open directories. The two kinds never collide because each is minted
// from the same counter.
type handleTable struct {
	mu sync.Mutex

	nextID fuseops.HandleID
	files  map[fuseops.HandleID]*fileHandle
	dirs   map[fuseops.HandleID]*dirIterator
}

func newHandleTable() *handleTable {
	return &handleTable{
		nextID: 1,
		files:  make(map[fuseops.HandleID]*fileHandle),
		dirs:   make(map[fuseops.HandleID]*dirIterator),
	}
}

func (t *handleTable) putFile(fd int) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.files[id] = &fileHandle{fd: fd}
	return id
}

func (t *handleTable) putDir(it *dirIterator) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.dirs[id] = it
	return id
}

func (t *handleTable) file(id fuseops.HandleID) (*fileHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.files[id]
	return h, ok
}

func (t *handleTable) dir(id fuseops.HandleID) (*dirIterator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.dirs[id]
	return d, ok
}

func (t *handleTable) releaseFile(id fuseops.HandleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, id)
}

func (t *handleTable) releaseDir(id fuseops.HandleID) *dirIterator {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.dirs[id]
	delete(t.dirs, id)
	return d
}
