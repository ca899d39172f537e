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
	"testing"

	"golang.org/x/sys/unix"
)

func TestUtimeErrnoRemapsEinvalToEperm(t *testing.T) {
	if got := utimeErrno(unix.EINVAL); got != unix.EPERM {
		t.Fatalf("utimeErrno(EINVAL) = %v, want EPERM", got)
	}
	if got := utimeErrno(unix.ENOENT); got != unix.ENOENT {
		t.Fatalf("utimeErrno(ENOENT) = %v, want ENOENT unchanged", got)
	}
	if got := utimeErrno(nil); got != nil {
		t.Fatalf("utimeErrno(nil) = %v, want nil", got)
	}
}

func TestReadlinkErrnoFlagsExactFill(t *testing.T) {
	if err := readlinkErrno(10, 10); err != unix.ENAMETOOLONG {
		t.Fatalf("readlinkErrno(10, 10) = %v, want ENAMETOOLONG", err)
	}
	if err := readlinkErrno(5, 10); err != nil {
		t.Fatalf("readlinkErrno(5, 10) = %v, want nil", err)
	}
}

func TestRenameFlagsErrnoRejectsAnyNonzeroFlags(t *testing.T) {
	if err := renameFlagsErrno(0); err != nil {
		t.Fatalf("renameFlagsErrno(0) = %v, want nil", err)
	}
	if err := renameFlagsErrno(1); err != unix.EINVAL {
		t.Fatalf("renameFlagsErrno(1) = %v, want EINVAL", err)
	}
}

func TestErrnoOrNilPassesThroughNilAndErrno(t *testing.T) {
	if got := errnoOrNil(nil); got != nil {
		t.Fatalf("errnoOrNil(nil) = %v, want nil", got)
	}
	if got := errnoOrNil(unix.ENOENT); got != unix.ENOENT {
		t.Fatalf("errnoOrNil(ENOENT) = %v, want ENOENT", got)
	}
}
