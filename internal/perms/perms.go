// Copyright 2026 Google LLC
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

// System permissions-related code.
package perms

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MyUserAndGroup returns the UID and GID of this process.
func MyUserAndGroup() (uid, gid uint32, err error) {
	signedUID := os.Getuid()
	signedGID := os.Getgid()

	// The only documented negative case at pkg.go.dev/os#Getuid is windows.
	if signedGID < 0 || signedUID < 0 {
		err = fmt.Errorf("failed to get uid/gid. UID = %d, GID = %d", signedUID, signedGID)
		return
	}

	uid = uint32(signedUID)
	gid = uint32(signedGID)

	return
}

// CheckOwnedDir verifies that dir is a real directory (not a symlink) owned
// by this process's user and accessible by nobody else. Private sockets are
// only created in such directories.
func CheckOwnedDir(dir string) error {
	var st unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("%s is not a directory", dir)
	}

	uid, _, err := MyUserAndGroup()
	if err != nil {
		return err
	}
	if st.Uid != uid {
		return fmt.Errorf("%s is owned by uid %d, not %d", dir, st.Uid, uid)
	}
	if st.Mode&0o777 != 0o700 {
		return fmt.Errorf("%s has permissions %o, expected 700", dir, st.Mode&0o777)
	}
	return nil
}
