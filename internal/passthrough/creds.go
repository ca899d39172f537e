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
	"runtime"

	"golang.org/x/sys/unix"
)

// adoptCaller switches the calling OS thread's filesystem uid/gid to uid and
// gid for the duration of one FUSE op, returning a restore function that
// must be deferred immediately. setfsuid/setfsgid are per-thread, which is
// why adoptCaller pins the goroutine to its OS thread (LockOSThread below,
// released by restore) for the lifetime of the guard: Go's scheduler is
// otherwise free to move a
// goroutine to a different thread between the Setfsuid call and the syscall
// it was meant to protect.
//
// This is deliberately the only thing this function does. The original
// C implementation folded credential adoption into its request-entry
// logging macro; conflating the two made it impossible to log a request
// without also becoming that request's caller, and vice versa. Passthrough
// keeps them independent: logging happens in fs.go, credential adoption
// happens here.
func adoptCaller(uid, gid uint32) (restore func()) {
	runtime.LockOSThread()

	oldUid := unix.Setfsuid(int(uid))
	oldGid := unix.Setfsgid(int(gid))

	return func() {
		unix.Setfsgid(oldGid)
		unix.Setfsuid(oldUid)
		runtime.UnlockOSThread()
	}
}
