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

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
	"golang.org/x/sys/unix"
)

// devIno identifies a real backing-filesystem inode, independent of the
// path or paths currently linked to it. Two lookups that land on the same
// (dev, ino) pair must be deduplicated to the same fuseops.InodeID.
type devIno struct {
	dev uint64
	ino uint64
}

func devInoFromStat(st *unix.Stat_t) devIno {
	return devIno{dev: uint64(st.Dev), ino: st.Ino}
}

// inode is the passthrough record for a single backing-filesystem object.
// fd is an O_PATH|O_NOFOLLOW descriptor opened once at first lookup and
// reused as the stable anchor for every later fstatat/openat/*at call on
// this object, via /proc/self/fd/<fd>. It is never reopened; the kernel
// keeps the descriptor valid across renames and unlinks of the underlying
// path.
type inode struct {
	fd      int
	key     devIno
	nlookup uint64
}

// inodeTable is the bridge's map from fuseops.InodeID to inode, plus the
// reverse (dev, ino) index used to dedupe concurrent lookups of the same
// backing object. It mirrors samples/memfs's invariant-checked mutex
// discipline: every exported method takes the lock, mutates, and checks
// invariants before releasing it.
type inodeTable struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	byID map[fuseops.InodeID]*inode

	// GUARDED_BY(mu)
	byKey map[devIno]fuseops.InodeID

	// GUARDED_BY(mu)
	nextID fuseops.InodeID
}

func newInodeTable(rootFd int, rootKey devIno) *inodeTable {
	t := &inodeTable{
		byID:   make(map[fuseops.InodeID]*inode),
		byKey:  make(map[devIno]fuseops.InodeID),
		nextID: fuseops.RootInodeID + 1,
	}

	root := &inode{
		fd:      rootFd,
		key:     rootKey,
		nlookup: 2,
	}
	t.byID[fuseops.RootInodeID] = root
	t.byKey[rootKey] = fuseops.RootInodeID

	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// checkInvariants panics if the table's data structures have diverged. Call
// only while holding mu.
func (t *inodeTable) checkInvariants() {
	if len(t.byID) != len(t.byKey) {
		panic(fmt.Sprintf(
			"inodeTable: byID has %d entries but byKey has %d",
			len(t.byID), len(t.byKey)))
	}

	for key, id := range t.byKey {
		in, ok := t.byID[id]
		if !ok {
			panic(fmt.Sprintf("inodeTable: byKey points at missing id %v", id))
		}
		if in.key != key {
			panic(fmt.Sprintf(
				"inodeTable: id %v stored under key %v but has key %v",
				id, key, in.key))
		}
	}

	if _, ok := t.byID[fuseops.RootInodeID]; !ok {
		panic("inodeTable: root inode is missing")
	}
}

// find returns the inode for id, or nil if it is unknown. It does not bump
// nlookup; callers that are servicing a lookup go through lookupOrInsert.
func (t *inodeTable) find(id fuseops.InodeID) *inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.mu.CheckInvariants()

	return t.byID[id]
}

// lookupOrInsert returns the existing inode ID for key if one is already
// known, bumping its nlookup count by one. Otherwise it registers fd under a
// freshly minted ID with nlookup 1 and returns that. In the dedupe case the
// caller's fd is redundant and must be closed by the caller.
func (t *inodeTable) lookupOrInsert(key devIno, fd int) (id fuseops.InodeID, dup bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.mu.CheckInvariants()

	if existing, ok := t.byKey[key]; ok {
		t.byID[existing].nlookup++
		return existing, true
	}

	id = t.nextID
	t.nextID++

	t.byID[id] = &inode{fd: fd, key: key, nlookup: 1}
	t.byKey[key] = id

	return id, false
}

// bumpLookupExisting increments nlookup for an already-known id. An id that
// is not in the table is ignored.
func (t *inodeTable) bumpLookupExisting(id fuseops.InodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.mu.CheckInvariants()

	if in, ok := t.byID[id]; ok {
		in.nlookup++
	}
}

// forget decrements id's nlookup count by n, deleting and closing it if the
// count reaches zero. The root inode is never deleted: the kernel's initial
// nlookup of 2 on the root is never fully forgotten in practice, but even if
// it were, passthrough has nowhere else to resolve "/" from.
func (t *inodeTable) forget(id fuseops.InodeID, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.mu.CheckInvariants()

	in, ok := t.byID[id]
	if !ok {
		return
	}

	if n >= in.nlookup {
		in.nlookup = 0
	} else {
		in.nlookup -= n
	}

	if in.nlookup > 0 || id == fuseops.RootInodeID {
		return
	}

	delete(t.byID, id)
	delete(t.byKey, in.key)
	unix.Close(in.fd)
}
