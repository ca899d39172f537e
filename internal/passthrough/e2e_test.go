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

package passthrough_test

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/joeriggs/proxybridge/internal/passthrough"
)

// mountFixture mounts a fresh passthrough file system over a fresh backing
// directory, modeled on samples/mount_roloopbackfs/mount.go's Mount/Join
// sequence rather than the older samples.SampleTest harness, since that is
// the style this package's own FileSystem implementation follows.
type mountFixture struct {
	backing string
	mountAt string
	mfs     *fuse.MountedFileSystem
}

func newMountFixture(t *testing.T) *mountFixture {
	t.Helper()

	backing, err := os.MkdirTemp("", "proxybridge_e2e_backing")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}

	mountAt, err := os.MkdirTemp("", "proxybridge_e2e_mount")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}

	errLogger := log.New(os.Stderr, "proxybridge_test: ", 0)
	fs, err := passthrough.New(backing, nil, errLogger)
	if err != nil {
		t.Fatalf("passthrough.New: %v", err)
	}

	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountAt, server, &fuse.MountConfig{ErrorLogger: errLogger})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	return &mountFixture{backing: backing, mountAt: mountAt, mfs: mfs}
}

func (f *mountFixture) tearDown(t *testing.T) {
	t.Helper()

	if err := f.mfs.Unmount(); err != nil {
		t.Errorf("Unmount: %v", err)
	}
	if err := f.mfs.Join(context.Background()); err != nil {
		t.Errorf("Join: %v", err)
	}

	os.RemoveAll(f.backing)
	os.RemoveAll(f.mountAt)
}

// This suite requires /dev/fuse and permission to mount FUSE file systems;
// it is the integration-level counterpart to the handler-level unit tests
// in this package and is expected to run in the same environments the
// teacher's own samples/*/*_test.go suites do.

func TestReadsFileWrittenThroughTheBackingPath(t *testing.T) {
	f := newMountFixture(t)
	defer f.tearDown(t)

	const contents = "hello from the backing filesystem"
	if err := os.WriteFile(filepath.Join(f.backing, "greeting"), []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(f.mountAt, "greeting"))
	if err != nil {
		t.Fatalf("ReadFile through mount: %v", err)
	}
	if string(got) != contents {
		t.Fatalf("got %q, want %q", got, contents)
	}
}

func TestMkdirCreatesADirectoryVisibleOnTheBackingPath(t *testing.T) {
	f := newMountFixture(t)
	defer f.tearDown(t)

	if err := os.Mkdir(filepath.Join(f.mountAt, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir through mount: %v", err)
	}

	info, err := os.Stat(filepath.Join(f.backing, "sub"))
	if err != nil {
		t.Fatalf("Stat on backing path: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("backing/sub is not a directory")
	}
}

func TestSymlinkAndReadlinkRoundTrip(t *testing.T) {
	f := newMountFixture(t)
	defer f.tearDown(t)

	if err := os.Symlink("target-does-not-need-to-exist", filepath.Join(f.mountAt, "link")); err != nil {
		t.Fatalf("Symlink through mount: %v", err)
	}

	got, err := os.Readlink(filepath.Join(f.mountAt, "link"))
	if err != nil {
		t.Fatalf("Readlink through mount: %v", err)
	}
	if got != "target-does-not-need-to-exist" {
		t.Fatalf("got target %q", got)
	}
}

func TestHardLinkingASymlinkIsRefusedWithEPERM(t *testing.T) {
	f := newMountFixture(t)
	defer f.tearDown(t)

	if err := os.Symlink("whatever", filepath.Join(f.mountAt, "src_link")); err != nil {
		t.Fatalf("Symlink through mount: %v", err)
	}

	err := os.Link(filepath.Join(f.mountAt, "src_link"), filepath.Join(f.mountAt, "dst_link"))
	if err == nil {
		t.Fatalf("expected Link of a symlink to fail")
	}
	if !errors.Is(err, syscall.EPERM) {
		t.Fatalf("Link of a symlink: got %v, want EPERM", err)
	}
}

func TestUnlinkLeavesASecondHardLinkReadable(t *testing.T) {
	f := newMountFixture(t)
	defer f.tearDown(t)

	const contents = "shared contents"
	if err := os.WriteFile(filepath.Join(f.mountAt, "orig"), []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Link(filepath.Join(f.mountAt, "orig"), filepath.Join(f.mountAt, "alias")); err != nil {
		t.Fatalf("Link through mount: %v", err)
	}
	if err := os.Remove(filepath.Join(f.mountAt, "orig")); err != nil {
		t.Fatalf("Remove through mount: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(f.mountAt, "alias"))
	if err != nil {
		t.Fatalf("ReadFile of surviving link: %v", err)
	}
	if string(got) != contents {
		t.Fatalf("got %q, want %q", got, contents)
	}
}

func TestReaddirOfALargeDirectoryEventuallyListsEveryEntry(t *testing.T) {
	f := newMountFixture(t)
	defer f.tearDown(t)

	const count = 500
	if err := os.Mkdir(filepath.Join(f.backing, "many"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	for i := 0; i < count; i++ {
		name := filepath.Join(f.backing, "many", "entry-"+strconv.Itoa(i))
		if err := os.WriteFile(name, nil, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(f.mountAt, "many"))
	if err != nil {
		t.Fatalf("ReadDir through mount: %v", err)
	}
	if len(entries) != count {
		t.Fatalf("got %d entries, want %d", len(entries), count)
	}
}
