// Copyright 2025 Google Inc. All Rights Reserved.
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

package envfs

import (
	"os"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// rootEntries is the synthesized listing of the root inode: it is never
// backed by a real directory, since "exe" and "raw" are views this
// filesystem invents rather than paths under SOURCE_FD.
var rootEntries = []string{".", "..", "exe", "raw"}

// dirHandle is the state behind an open directory handle (spec.md §3's
// Directory handle). For the root inode dirStream is nil and readdir
// synthesizes rootEntries instead of touching it.
type dirHandle struct {
	raw       bool
	isRoot    bool
	dirStream *os.File

	// entries and entriesLoaded cache the directory's full listing on first
	// read, addressed by the 1-based offsets the kernel hands back on
	// subsequent calls. ENVFS never mutates the underlying tree out from
	// under an open handle, so a one-shot slurp is sufficient; there is no
	// telldir/seekdir support to preserve beyond replaying this slice.
	entries       []fuseutil.Dirent
	entriesLoaded bool
}

func newRootDirHandle() *dirHandle {
	return &dirHandle{isRoot: true}
}

func newDirHandle(f *os.File, raw bool) *dirHandle {
	return &dirHandle{dirStream: f, raw: raw}
}

// fileHandle is the state behind an open regular-file handle.
type fileHandle struct {
	f *os.File
}

// rootDirentType reports the directory-entry type synthesized for the named
// rootEntries member; every root child is itself a directory.
func rootDirentType(name string) fuseops.DirentType {
	return fuseops.DT_Directory
}
