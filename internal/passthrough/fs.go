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

// Package passthrough implements a fuseutil.FileSystem that mirrors one
// backing directory tree at a FUSE mount point, forwarding every operation
// to the real filesystem while impersonating the calling process's
// uid/gid. It is built directly on top of github.com/jacobsa/fuse; it
// never decodes the wire protocol itself.
package passthrough

import (
	"context"
	"log"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"
)

// FS is the passthrough file system. Every exported method corresponds to
// one FUSE operation spec section 6 lists; everything else is satisfied by
// the embedded NotImplementedFileSystem, which replies ENOSYS automatically
// for xattr read/write/list, locking, polling, ioctl, access, and bulk
// forget, exactly the set spec.md's Non-goals name.
type FS struct {
	fuseutil.NotImplementedFileSystem

	rootFd int
	inodes *inodeTable
	handle *handleTable
	clock  timeutil.Clock

	debug *log.Logger
	err   *log.Logger
}

var _ fuseutil.FileSystem = (*FS)(nil)

// New opens dstPath with O_PATH and builds the passthrough file system
// rooted there. dstPath must already exist and be a directory; the caller
// (cmd/proxybridge) is responsible for resolving PROXY_BRIDGE_DST before
// calling this.
func New(dstPath string, debug, errLogger *log.Logger) (*FS, error) {
	rootFd, err := unix.Open(dstPath, unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Fstatat(rootFd, "", &st, unix.AT_EMPTY_PATH); err != nil {
		unix.Close(rootFd)
		return nil, err
	}

	fs := &FS{
		rootFd: rootFd,
		inodes: newInodeTable(rootFd, devInoFromStat(&st)),
		handle: newHandleTable(),
		clock:  timeutil.RealClock(),
		debug:  debug,
		err:    errLogger,
	}
	return fs, nil
}

// logEntry and logExit tag every line with the handler name and the
// caller's uid/gid/pid triple, the way the original implementation's
// LOG_ENTER/LOG_EXIT macros did, but independent of credential adoption
// (see creds.go) per spec section 9's Open Questions.
func (fs *FS) logEntry(op string, ctx fuseops.OpContext, detail string) {
	if fs.debug == nil {
		return
	}
	fs.debug.Printf("%s uid=%d gid=%d pid=%d %s", op, ctx.Uid, ctx.Gid, ctx.Pid, detail)
}

func (fs *FS) logExit(op string, err error) {
	if err != nil && fs.err != nil {
		fs.err.Printf("%s -> error: %v", op, err)
	}
	if fs.debug == nil {
		return
	}
	if err != nil {
		fs.debug.Printf("%s -> error: %v", op, err)
		return
	}
	fs.debug.Printf("%s -> OK", op)
}

func (fs *FS) fdFor(id fuseops.InodeID) (int, error) {
	in := fs.inodes.find(id)
	if in == nil {
		return 0, unix.ENOENT
	}
	return in.fd, nil
}

func (fs *FS) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("lookup", op.OpContext, op.Name)

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		fs.logExit("lookup", err)
		return err
	}

	id, st, err := fs.doLookup(parentFd, op.Name)
	if err != nil {
		fs.logExit("lookup", err)
		return errnoOrNil(err)
	}

	op.Entry = childInodeEntry(fs.clock, id, &st)
	fs.logExit("lookup", nil)
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("getattr", op.OpContext, "")

	fd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}

	st, err := getAttr(fd)
	if err != nil {
		fs.logExit("getattr", err)
		return errnoOrNil(err)
	}

	op.Attributes = attributesFromStat(&st)
	op.AttributesExpiration = fs.clock.Now().Add(attrCacheTimeout)
	fs.logExit("getattr", nil)
	return nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("setattr", op.OpContext, "")

	fd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}

	if err := setAttr(fd, op.Size, op.Mode, op.Atime, op.Mtime); err != nil {
		fs.logExit("setattr", err)
		return errnoOrNil(err)
	}

	st, err := getAttr(fd)
	if err != nil {
		fs.logExit("setattr", err)
		return errnoOrNil(err)
	}

	op.Attributes = attributesFromStat(&st)
	op.AttributesExpiration = fs.clock.Now().Add(attrCacheTimeout)
	fs.logExit("setattr", nil)
	return nil
}

func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.inodes.forget(op.Inode, op.N)
	return nil
}

func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("mkdir", op.OpContext, op.Name+" "+modeString(op.Mode))

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	entry, err := fs.mkdirChild(parentFd, op.Name, op.Mode, op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		fs.logExit("mkdir", err)
		return errnoOrNil(err)
	}

	op.Entry = entry
	fs.logExit("mkdir", nil)
	return nil
}

func (fs *FS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("mknod", op.OpContext, op.Name+" "+modeString(op.Mode))

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	entry, err := fs.mknodChild(parentFd, op.Name, op.Mode, op.Rdev, op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		fs.logExit("mknod", err)
		return errnoOrNil(err)
	}

	op.Entry = entry
	fs.logExit("mknod", nil)
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("create", op.OpContext, op.Name+" "+modeString(op.Mode))

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	entry, fd, err := fs.createFileChild(parentFd, op.Name, op.Mode, uint32(op.Flags), op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		fs.logExit("create", err)
		return errnoOrNil(err)
	}

	op.Entry = entry
	op.Handle = fs.handle.putFile(fd)
	fs.logExit("create", nil)
	return nil
}

func (fs *FS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("symlink", op.OpContext, op.Name+" -> "+op.Target)

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	entry, err := fs.symlinkChild(parentFd, op.Name, op.Target, op.OpContext.Uid, op.OpContext.Gid)
	if err != nil {
		fs.logExit("symlink", err)
		return errnoOrNil(err)
	}

	op.Entry = entry
	fs.logExit("symlink", nil)
	return nil
}

func (fs *FS) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("link", op.OpContext, op.Name)

	targetFd, err := fs.fdFor(op.Target)
	if err != nil {
		return err
	}
	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	if err := fs.link(targetFd, parentFd, op.Name); err != nil {
		fs.logExit("link", err)
		return errnoOrNil(err)
	}

	id, st, err := fs.doLookup(parentFd, op.Name)
	if err != nil {
		fs.logExit("link", err)
		return errnoOrNil(err)
	}

	op.Entry = childInodeEntry(fs.clock, id, &st)
	fs.logExit("link", nil)
	return nil
}

func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("rename", op.OpContext, op.OldName+" -> "+op.NewName)

	oldParentFd, err := fs.fdFor(op.OldParent)
	if err != nil {
		return err
	}
	newParentFd, err := fs.fdFor(op.NewParent)
	if err != nil {
		return err
	}

	err = rename(oldParentFd, op.OldName, newParentFd, op.NewName, 0)
	fs.logExit("rename", err)
	return errnoOrNil(err)
}

func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("rmdir", op.OpContext, op.Name)

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	err = unlink(parentFd, op.Name, true)
	fs.logExit("rmdir", err)
	return errnoOrNil(err)
}

func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("unlink", op.OpContext, op.Name)

	parentFd, err := fs.fdFor(op.Parent)
	if err != nil {
		return err
	}

	err = unlink(parentFd, op.Name, false)
	fs.logExit("unlink", err)
	return errnoOrNil(err)
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("opendir", op.OpContext, "")

	fd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}

	dirFd, err := unix.Openat(fd, ".", unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		fs.logExit("opendir", err)
		return errnoOrNil(err)
	}

	op.Handle = fs.handle.putDir(newDirIterator(dirFd))
	fs.logExit("opendir", nil)
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	return fs.doReadDir(op.Handle, int64(op.Offset), op.Dst, &op.BytesRead)
}

func (fs *FS) ReadDirPlus(ctx context.Context, op *fuseops.ReadDirPlusOp) error {
	return fs.doReadDirPlus(op)
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	it := fs.handle.releaseDir(op.Handle)
	if it != nil {
		it.close()
	}
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()
	fs.logEntry("open", op.OpContext, openFlagsString(uint32(op.Flags)))

	anchorFd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}

	fd, err := unix.Openat(unix.AT_FDCWD, procSelfFd(anchorFd), int(op.Flags)&^unix.O_NOFOLLOW, 0)
	if err != nil {
		fs.logExit("open", err)
		return errnoOrNil(err)
	}

	op.Handle = fs.handle.putFile(fd)
	fs.logExit("open", nil)
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, ok := fs.handle.file(op.Handle)
	if !ok {
		return unix.EBADF
	}

	n, err := unix.Pread(h.fd, op.Dst, op.Offset)
	if err != nil {
		return errnoOrNil(err)
	}
	op.BytesRead = n
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	h, ok := fs.handle.file(op.Handle)
	if !ok {
		return unix.EBADF
	}

	_, err := unix.Pwrite(h.fd, op.Data, op.Offset)
	return errnoOrNil(err)
}

func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	h, ok := fs.handle.file(op.Handle)
	if !ok {
		return unix.EBADF
	}
	return errnoOrNil(unix.Fsync(h.fd))
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	if h, ok := fs.handle.file(op.Handle); ok {
		unix.Close(h.fd)
	}
	fs.handle.releaseFile(op.Handle)
	return nil
}

func (fs *FS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	fd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}

	target, err := readSymlink(fd)
	if err != nil {
		return errnoOrNil(err)
	}
	op.Target = target
	return nil
}

func (fs *FS) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	restore := adoptCaller(op.OpContext.Uid, op.OpContext.Gid)
	defer restore()

	fd, err := fs.fdFor(op.Inode)
	if err != nil {
		return err
	}
	return errnoOrNil(removeXattr(fd, op.Name))
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	st, err := statFS(fs.rootFd)
	if err != nil {
		return errnoOrNil(err)
	}

	op.BlockSize = uint32(st.Bsize)
	op.IoSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.Inodes = st.Files
	op.InodesFree = st.Ffree
	return nil
}

func (fs *FS) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	return unix.ENOSYS
}

// Destroy closes the root anchor descriptor. Called once after the FUSE
// session loop returns.
func (fs *FS) Destroy() {
	unix.Close(fs.rootFd)
}
