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
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/sys/unix"
)

// statFor builds a unix.Stat_t with the fields attributesFromStat and
// modeFromStat actually read, leaving everything else zeroed.
func statFor(mode uint32, size int64, nlink, uid, gid uint32) unix.Stat_t {
	return unix.Stat_t{
		Mode:  mode,
		Size:  size,
		Nlink: uint64(nlink),
		Uid:   uid,
		Gid:   gid,
	}
}

func TestAttributesFromStatTranslatesFileTypeAndOwnership(t *testing.T) {
	st := statFor(unix.S_IFDIR|0755, 4096, 2, 1000, 1000)

	got := attributesFromStat(&st)
	want := fuseops.InodeAttributes{
		Size:  4096,
		Nlink: 2,
		Mode:  os.ModeDir | 0755,
		Uid:   1000,
		Gid:   1000,
	}

	// Timestamps come from the zeroed Atim/Mtim/Ctim fields above, so
	// force them equal before diffing the rest; pretty.Compare's
	// field-by-field output is what makes a failure here actionable,
	// versus a bare reflect.DeepEqual mismatch.
	got.Atime, got.Mtime, got.Ctime = time.Time{}, time.Time{}, time.Time{}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("attributesFromStat mismatch (-want +got):\n%s", diff)
	}
}

func TestChildInodeEntryUsesTheSuppliedClockForExpiration(t *testing.T) {
	var clock timeutil.SimulatedClock
	clock.SetTime(time.Unix(1000, 0))
	st := statFor(unix.S_IFREG|0644, 0, 1, 0, 0)

	entry := childInodeEntry(&clock, fuseops.InodeID(7), &st)
	want := clock.Now().Add(attrCacheTimeout)

	if !entry.AttributesExpiration.Equal(want) {
		t.Fatalf("AttributesExpiration = %v, want %v", entry.AttributesExpiration, want)
	}
	if !entry.EntryExpiration.Equal(want) {
		t.Fatalf("EntryExpiration = %v, want %v", entry.EntryExpiration, want)
	}
}
