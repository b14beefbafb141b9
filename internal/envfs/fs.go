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
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// ServerConfig is everything the filesystem needs that the session (C2) is
// responsible for establishing: the path-only descriptor rooted at the
// container's filesystem, the stub substituted for executables in the exe
// view, and the cache-validity windows advertised to the kernel.
type ServerConfig struct {
	SourceFD          *os.File
	RunTrampolinePath string
	EntryTimeout      time.Duration
	AttrTimeout       time.Duration
}

// NewServer builds a fuse.Server implementing the read-only exe/raw views
// over SourceFD.
func NewServer(cfg *ServerConfig) (fuse.Server, error) {
	if cfg.SourceFD == nil {
		return nil, errors.New("envfs: ServerConfig.SourceFD is required")
	}

	fs := &fileSystem{
		sourceFD:          cfg.SourceFD,
		runTrampolinePath: cfg.RunTrampolinePath,
		entryTimeout:      cfg.EntryTimeout,
		attrTimeout:       cfg.AttrTimeout,
		uid:               uint32(os.Getuid()),
		gid:               uint32(os.Getgid()),
		table:             NewTable(),
		fileHandles:       make(map[fuseops.HandleID]*fileHandle),
		dirHandles:        make(map[fuseops.HandleID]*dirHandle),
		nextHandleID:      1,
	}

	return fuseutil.NewFileSystemServer(fs), nil
}

// fileSystem implements fuseutil.FileSystem. It never mutates the
// underlying container filesystem: every operation not listed in spec.md
// §4.4 is left to fuseutil.NotImplementedFileSystem, which answers ENOSYS.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	sourceFD          *os.File
	runTrampolinePath string
	entryTimeout      time.Duration
	attrTimeout       time.Duration
	uid               uint32
	gid               uint32

	table *Table

	// GUARDED_BY(mu)
	mu sync.Mutex
	// GUARDED_BY(mu)
	fileHandles map[fuseops.HandleID]*fileHandle
	// GUARDED_BY(mu)
	dirHandles map[fuseops.HandleID]*dirHandle
	// GUARDED_BY(mu)
	nextHandleID fuseops.HandleID
}

func (fs *fileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func errnoFromErr(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return err
}

// attrsFromStat converts a raw stat buffer into the attributes handed to
// the kernel, masking off every write bit per spec.md §4.4's read-only
// policy.
func attrsFromStat(st *unix.Stat_t, uid, gid uint32) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   uint64(st.Size),
		Nlink:  uint32(st.Nlink),
		Mode:   os.FileMode(st.Mode&0777&^0222) | modeTypeBits(st.Mode),
		Atime:  time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:  time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:  time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Crtime: time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Uid:    uid,
		Gid:    gid,
	}
}

// modeTypeBits maps the POSIX S_IFMT bits of a raw stat mode onto the
// corresponding os.FileMode type bit, since fuseops.InodeAttributes.Mode is
// an os.FileMode, not a raw mode_t.
func modeTypeBits(raw uint32) os.FileMode {
	switch raw & unix.S_IFMT {
	case unix.S_IFDIR:
		return os.ModeDir
	case unix.S_IFLNK:
		return os.ModeSymlink
	case unix.S_IFSOCK:
		return os.ModeSocket
	case unix.S_IFIFO:
		return os.ModeNamedPipe
	case unix.S_IFBLK:
		return os.ModeDevice
	case unix.S_IFCHR:
		return os.ModeDevice | os.ModeCharDevice
	default:
		return 0
	}
}

// statAndMaybeRewrite implements the shared stat-and-maybe-rewrite rule
// used by lookup and getattr (spec.md §4.4): stat relPath relative to
// SOURCE_FD without following a terminal symlink, then, if raw is false
// and the result is an executable regular file, substitute the
// (symlink-followed) stat of the run trampoline instead.
func (fs *fileSystem) statAndMaybeRewrite(relPath string, raw bool) (st unix.Stat_t, rewritten bool, err error) {
	if err = unix.Fstatat(int(fs.sourceFD.Fd()), relPath, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return
	}

	if !raw && st.Mode&unix.S_IFMT == unix.S_IFREG && st.Mode&0111 != 0 {
		var tst unix.Stat_t
		if err = unix.Stat(fs.runTrampolinePath, &tst); err != nil {
			return
		}
		return tst, true, nil
	}

	return st, false, nil
}

func (fs *fileSystem) statSourceRoot() (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstat(int(fs.sourceFD.Fd()), &st)
	return st, err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parent, ok := fs.table.Lookup(op.Parent)
	if !ok {
		return fuse.ENOENT
	}

	var attrs fuseops.InodeAttributes
	var child *Inode

	if parent.root {
		var raw bool
		switch op.Name {
		case "exe":
			raw = false
		case "raw":
			raw = true
		default:
			return fuse.ENOENT
		}

		st, err := fs.statSourceRoot()
		if err != nil {
			return errnoFromErr(err)
		}
		attrs = attrsFromStat(&st, fs.uid, fs.gid)
		child = fs.table.Intern("", raw)
	} else {
		relPath := joinPath(parent.Path, op.Name)
		st, _, err := fs.statAndMaybeRewrite(relPath, parent.Raw)
		if err != nil {
			return errnoFromErr(err)
		}
		attrs = attrsFromStat(&st, fs.uid, fs.gid)
		child = fs.table.Intern(relPath, parent.Raw)
	}

	op.Entry.Child = child.ID
	op.Entry.Attributes = attrs
	op.Entry.EntryExpiration = time.Now().Add(fs.entryTimeout)
	op.Entry.AttributesExpiration = time.Now().Add(fs.attrTimeout)
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	in, ok := fs.table.Lookup(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	if in.root {
		op.Attributes = fuseops.InodeAttributes{
			Nlink: 4,
			Mode:  os.ModeDir | 0755,
			Uid:   fs.uid,
			Gid:   fs.gid,
		}
		op.AttributesExpiration = time.Now().Add(fs.attrTimeout)
		return nil
	}

	var st unix.Stat_t
	var err error
	if in.Path == "" {
		st, err = fs.statSourceRoot()
	} else {
		st, _, err = fs.statAndMaybeRewrite(in.Path, in.Raw)
	}
	if err != nil {
		return errnoFromErr(err)
	}

	op.Attributes = attrsFromStat(&st, fs.uid, fs.gid)
	op.AttributesExpiration = time.Now().Add(fs.attrTimeout)
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.table.Forget(op.Inode, op.N)
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) BatchForgetInode(op *fuseops.BatchForgetInodeOp) error {
	fs.table.ForgetMulti(op.Entries)
	return nil
}

func (fs *fileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	in, ok := fs.table.Lookup(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if in.root || in.Path == "" {
		return fuse.EINVAL
	}

	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlinkat(int(fs.sourceFD.Fd()), in.Path, buf)
	if err != nil {
		return errnoFromErr(err)
	}

	op.Target = string(buf[:n])
	return nil
}

func isWriteIntent(flags uint32) bool {
	acc := flags & syscall.O_ACCMODE
	return acc == syscall.O_WRONLY || acc == syscall.O_RDWR
}

func procSelfFD(fd uintptr) string {
	return fmt.Sprintf("/proc/self/fd/%d", fd)
}

// openForRead resolves in to a fully usable, non-path-only read handle,
// applying the exe-view trampoline substitution and the /proc/self/fd
// reopen trick for the empty-path (view-root) inode (spec.md §4.4, §9).
func (fs *fileSystem) openForRead(in *Inode) (*os.File, error) {
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

	fd, err := unix.Openat(int(fs.sourceFD.Fd()), in.Path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), in.Path), nil
}

func (fs *fileSystem) openDirAt(relPath string) (*os.File, error) {
	if relPath == "" {
		return os.Open(procSelfFD(fs.sourceFD.Fd()))
	}

	fd, err := unix.Openat(int(fs.sourceFD.Fd()), relPath, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), relPath), nil
}

func (fs *fileSystem) allocHandleID() fuseops.HandleID {
	id := fs.nextHandleID
	fs.nextHandleID++
	return id
}

func (fs *fileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	in, ok := fs.table.Lookup(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if in.root {
		return fuse.EISDIR
	}
	if isWriteIntent(uint32(op.OpenFlags)) {
		return fuse.EPERM
	}

	f, err := fs.openForRead(in)
	if err != nil {
		return errnoFromErr(err)
	}

	fs.mu.Lock()
	op.Handle = fs.allocHandleID()
	fs.fileHandles[op.Handle] = &fileHandle{f: f}
	fs.mu.Unlock()

	op.KeepPageCache = false
	return nil
}

func (fs *fileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	h, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	n, err := h.f.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil && err != io.EOF {
		return errnoFromErr(err)
	}
	return nil
}

func (fs *fileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	h, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()

	if ok {
		h.f.Close()
	}
	return nil
}

func (fs *fileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	in, ok := fs.table.Lookup(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	var dh *dirHandle
	if in.root {
		dh = newRootDirHandle()
	} else {
		f, err := fs.openDirAt(in.Path)
		if err != nil {
			return errnoFromErr(err)
		}
		dh = newDirHandle(f, in.Raw)
	}

	fs.mu.Lock()
	op.Handle = fs.allocHandleID()
	fs.dirHandles[op.Handle] = dh
	fs.mu.Unlock()
	return nil
}

func direntType(mode os.FileMode) fuseops.DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return fuseops.DT_Directory
	case mode&os.ModeSymlink != 0:
		return fuseops.DT_Link
	case mode&os.ModeSocket != 0:
		return fuseops.DT_Socket
	case mode&os.ModeNamedPipe != 0:
		return fuseops.DT_FIFO
	case mode&os.ModeCharDevice != 0:
		return fuseops.DT_Char
	case mode&os.ModeDevice != 0:
		return fuseops.DT_Block
	default:
		return fuseops.DT_File
	}
}

func direntIno(info os.FileInfo) fuseops.InodeID {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fuseops.InodeID(st.Ino)
	}
	return fuseops.InodeID(0)
}

// load slurps the directory stream once into an offset-addressable slice,
// matching the buffered-listing shape of the teacher's own dirHandle while
// sourcing entries from a real directory fd instead of an object listing.
func (dh *dirHandle) load() error {
	infos, err := dh.dirStream.ReadDir(-1)
	if err != nil {
		return err
	}

	dh.entries = make([]fuseutil.Dirent, 0, len(infos))
	for i, e := range infos {
		info, statErr := e.Info()
		var ino fuseops.InodeID
		if statErr == nil {
			ino = direntIno(info)
		}
		dh.entries = append(dh.entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  ino,
			Name:   e.Name(),
			Type:   direntType(e.Type()),
		})
	}
	dh.entriesLoaded = true
	return nil
}

func (fs *fileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	if dh.isRoot {
		n := 0
		for i := int(op.Offset); i < len(rootEntries); i++ {
			d := fuseutil.Dirent{
				Offset: fuseops.DirOffset(i + 1),
				Inode:  fuseops.InodeID(i + 1),
				Name:   rootEntries[i],
				Type:   rootDirentType(rootEntries[i]),
			}
			wn := fuseutil.WriteDirent(op.Dst[n:], d)
			if wn == 0 {
				break
			}
			n += wn
		}
		op.BytesRead = n
		return nil
	}

	if !dh.entriesLoaded {
		if err := dh.load(); err != nil {
			return errnoFromErr(err)
		}
	}

	idx := int(op.Offset)
	if idx > len(dh.entries) {
		return fuse.EINVAL
	}

	n := 0
	for ; idx < len(dh.entries); idx++ {
		wn := fuseutil.WriteDirent(op.Dst[n:], dh.entries[idx])
		if wn == 0 {
			break
		}
		n += wn
	}
	op.BytesRead = n
	return nil
}

func (fs *fileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()

	if ok && dh.dirStream != nil {
		dh.dirStream.Close()
	}
	return nil
}
