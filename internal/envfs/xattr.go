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
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"
)

// reopenNonPath resolves in to a regular (non-O_PATH) fd suitable for
// f{get,list}xattr, following the /proc/self/fd/N round-trip described in
// spec.md §4.4 and §9: a path-only descriptor cannot be the target of the
// xattr syscalls directly, so it is reopened through its /proc entry.
func (fs *fileSystem) reopenNonPath(in *Inode) (*os.File, error) {
	if in.Path == "" {
		return os.Open(procSelfFD(fs.sourceFD.Fd()))
	}

	_, rewritten, err := fs.statAndMaybeRewrite(in.Path, in.Raw)
	if err != nil {
		return nil, err
	}
	if rewritten {
		return os.Open(fs.runTrampolinePath)
	}

	pathFD, err := unix.Openat(int(fs.sourceFD.Fd()), in.Path, unix.O_PATH|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(pathFD)

	return os.Open(procSelfFD(uintptr(pathFD)))
}

func (fs *fileSystem) GetXattr(op *fuseops.GetXattrOp) error {
	in, ok := fs.table.Lookup(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if in.root {
		return syscall.ENODATA
	}

	f, err := fs.reopenNonPath(in)
	if err != nil {
		return errnoFromErr(err)
	}
	defer f.Close()

	n, err := unix.Fgetxattr(int(f.Fd()), op.Name, op.Dst)
	if err != nil {
		return errnoFromErr(err)
	}

	op.BytesRead = n
	return nil
}

func (fs *fileSystem) ListXattr(op *fuseops.ListXattrOp) error {
	in, ok := fs.table.Lookup(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if in.root {
		op.BytesRead = 0
		return nil
	}

	f, err := fs.reopenNonPath(in)
	if err != nil {
		return errnoFromErr(err)
	}
	defer f.Close()

	n, err := unix.Flistxattr(int(f.Fd()), op.Dst)
	if err != nil {
		return errnoFromErr(err)
	}

	op.BytesRead = n
	return nil
}
