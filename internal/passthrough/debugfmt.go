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
	"os"

	"golang.org/x/sys/unix"
)

// accessModeString renders the O_RDONLY/O_WRONLY/O_RDWR portion of an open
// flags value the way the original implementation's fuse_access_mode_to_string
// does, for use only by the debug logger.
func accessModeString(flags uint32) string {
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		return "O_RDONLY"
	case unix.O_WRONLY:
		return "O_WRONLY"
	case unix.O_RDWR:
		return "O_RDWR"
	default:
		return "O_UNKNOWN"
	}
}

// openFlagsString renders the full set of flags on an open/create request,
// for the debug logger only. It is never consulted for correctness.
func openFlagsString(flags uint32) string {
	s := accessModeString(flags)
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{unix.O_CREAT, "O_CREAT"},
		{unix.O_EXCL, "O_EXCL"},
		{unix.O_TRUNC, "O_TRUNC"},
		{unix.O_APPEND, "O_APPEND"},
		{unix.O_NONBLOCK, "O_NONBLOCK"},
		{unix.O_DIRECTORY, "O_DIRECTORY"},
		{unix.O_NOFOLLOW, "O_NOFOLLOW"},
	} {
		if flags&f.bit != 0 {
			s += "|" + f.name
		}
	}
	return s
}

// modeString renders a permission/type mode the way the original
// implementation's mode_to_string does, for debug logging of mkdir/mknod/
// create/chmod requests.
func modeString(mode os.FileMode) string {
	return fmt.Sprintf("%#o(%s)", mode.Perm(), mode.String())
}
