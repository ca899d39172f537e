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
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	. "github.com/jacobsa/ogletest"
	"golang.org/x/sys/unix"
)

func TestInodeTable(t *testing.T) { RunTests(t) }

type InodeTableTest struct {
	dir    string
	rootFd int
	table  *inodeTable
}

func init() { RegisterTestSuite(&InodeTableTest{}) }

func (t *InodeTableTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = os.MkdirTemp("", "proxybridge_inode_test")
	AssertEq(nil, err)

	t.rootFd, err = unix.Open(t.dir, unix.O_PATH|unix.O_DIRECTORY, 0)
	AssertEq(nil, err)

	var st unix.Stat_t
	AssertEq(nil, unix.Fstatat(t.rootFd, "", &st, unix.AT_EMPTY_PATH))

	t.table = newInodeTable(t.rootFd, devInoFromStat(&st))
}

func (t *InodeTableTest) TearDown() {
	unix.Close(t.rootFd)
	os.RemoveAll(t.dir)
}

func (t *InodeTableTest) openPath(name string) (int, unix.Stat_t) {
	fd, err := unix.Openat(t.rootFd, name, unix.O_PATH|unix.O_NOFOLLOW, 0)
	AssertEq(nil, err)

	var st unix.Stat_t
	AssertEq(nil, unix.Fstatat(fd, "", &st, unix.AT_EMPTY_PATH|unix.AT_SYMLINK_NOFOLLOW))
	return fd, st
}

func (t *InodeTableTest) TestRootIsPreRegisteredWithNlookupTwo() {
	root := t.table.find(fuseops.RootInodeID)
	AssertNe(nil, root)
	ExpectEq(uint64(2), root.nlookup)
}

func (t *InodeTableTest) TestRepeatedLookupsOfSameObjectDedupe() {
	name := "child"
	AssertEq(nil, os.WriteFile(filepath.Join(t.dir, name), []byte("x"), 0644))

	fd1, st1 := t.openPath(name)
	key := devInoFromStat(&st1)
	id1, dup1 := t.table.lookupOrInsert(key, fd1)
	ExpectFalse(dup1)

	fd2, st2 := t.openPath(name)
	key2 := devInoFromStat(&st2)
	id2, dup2 := t.table.lookupOrInsert(key2, fd2)

	ExpectTrue(dup2)
	ExpectEq(id1, id2)

	in := t.table.find(id1)
	ExpectEq(uint64(2), in.nlookup)

	unix.Close(fd2)
}

func (t *InodeTableTest) TestForgetDeletesAtZeroButNeverDeletesRoot() {
	name := "child2"
	AssertEq(nil, os.WriteFile(filepath.Join(t.dir, name), []byte("x"), 0644))

	fd, st := t.openPath(name)
	id, _ := t.table.lookupOrInsert(devInoFromStat(&st), fd)

	t.table.forget(id, 1)
	ExpectEq(nil, t.table.find(id))

	t.table.forget(fuseops.RootInodeID, 2)
	ExpectNe(nil, t.table.find(fuseops.RootInodeID))
}
