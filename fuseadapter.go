//go:build fuse

package f2f

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fuseNode adapts one Filesystem path to go-fuse's fs.InodeEmbedder tree,
// the same role inode_fuse.go plays for the teacher's read-only squashfs
// image, generalized here to a read/write namespace.
type fuseNode struct {
	fs.Inode
	root *Filesystem
	path string
}

var (
	_ fs.NodeLookuper  = (*fuseNode)(nil)
	_ fs.NodeReaddirer = (*fuseNode)(nil)
	_ fs.NodeOpener    = (*fuseNode)(nil)
	_ fs.NodeReader    = (*fuseNode)(nil)
	_ fs.NodeWriter    = (*fuseNode)(nil)
	_ fs.NodeCreater   = (*fuseNode)(nil)
	_ fs.NodeMkdirer   = (*fuseNode)(nil)
	_ fs.NodeUnlinker  = (*fuseNode)(nil)
	_ fs.NodeRmdirer   = (*fuseNode)(nil)
	_ fs.NodeGetattrer = (*fuseNode)(nil)
)

// Mount exposes fs as a fuse.RawFileSystem-backed tree rooted at
// mountpoint, following the teacher's pattern of handing a single root
// *Inode to go-fuse and letting Lookup walk the rest lazily.
func Mount(fsys *Filesystem, mountpoint string, debug bool) (*fuse.Server, error) {
	root := &fuseNode{root: fsys, path: ""}
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{Debug: debug},
	})
	if err != nil {
		return nil, err
	}
	return server.Server, nil
}

func (n *fuseNode) childPath(name string) string {
	if n.path == "" {
		return name
	}
	return n.path + "/" + name
}

func toErrno(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case ErrNotFound:
		return syscall.ENOENT
	case ErrExists:
		return syscall.EEXIST
	case ErrNotDirectory:
		return syscall.ENOTDIR
	case ErrIsDirectory:
		return syscall.EISDIR
	case ErrNotEmpty:
		return syscall.ENOTEMPTY
	case ErrLocked:
		return syscall.EBUSY
	case ErrInvalidName, ErrInvalidPath:
		return syscall.EINVAL
	case ErrOutOfSpace:
		return syscall.ENOSPC
	case ErrReadOnly:
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}

func fillAttrFor(ftype FileType, size int64, out *fuse.Attr) {
	out.Size = uint64(size)
	out.SetTimeout(time.Second)
	if ftype == TypeDirectory {
		out.Mode = fuse.S_IFDIR | 0755
	} else {
		out.Mode = fuse.S_IFREG | 0644
	}
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	ftype, err := n.root.Stat(n.path)
	if err != nil {
		return toErrno(err)
	}
	var size int64
	if ftype == TypeRegular {
		h, err := n.root.Open(n.path, ReadOnly)
		if err == nil {
			size = h.Size()
			h.Close()
		}
	}
	fillAttrFor(ftype, size, &out.Attr)
	return 0
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	ftype, err := n.root.Stat(childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttrFor(ftype, 0, &out.Attr)
	out.SetEntryTimeout(time.Second)
	child := &fuseNode{root: n.root, path: childPath}
	mode := uint32(fuse.S_IFREG)
	if ftype == TypeDirectory {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode}), 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	it, err := n.root.ReadDir(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	var entries []fuse.DirEntry
	for {
		e, ok, err := it.Next()
		if err != nil {
			return nil, toErrno(err)
		}
		if !ok {
			break
		}
		mode := uint32(fuse.S_IFREG)
		if e.Type == TypeDirectory {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	it.Close()
	return fs.NewListDirStream(entries), 0
}

type fuseFileHandle struct {
	h *FileHandle
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	mode := ReadOnly
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		mode = ReadWrite
	}
	h, err := n.root.Open(n.path, mode)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fuseFileHandle{h: h}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := n.childPath(name)
	h, err := n.root.Create(childPath)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	fillAttrFor(TypeRegular, 0, &out.Attr)
	out.SetEntryTimeout(time.Second)
	child := &fuseNode{root: n.root, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &fuseFileHandle{h: h}, 0, 0
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.root.Mkdir(childPath); err != nil {
		return nil, toErrno(err)
	}
	fillAttrFor(TypeDirectory, 0, &out.Attr)
	out.SetEntryTimeout(time.Second)
	child := &fuseNode{root: n.root, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.root.Remove(n.childPath(name)))
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.root.Remove(n.childPath(name)))
}

func (fh *fuseFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.h.ReadAt(dest, off)
	if err != nil && n == 0 {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fuseFileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.h.WriteAt(data, off)
	if err != nil {
		return uint32(n), toErrno(err)
	}
	return uint32(n), 0
}

func (fh *fuseFileHandle) Flush(ctx context.Context) syscall.Errno {
	return toErrno(fh.h.Flush())
}

func (fh *fuseFileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(fh.h.Close())
}

func (n *fuseNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	fh, ok := f.(*fuseFileHandle)
	if !ok {
		return 0, syscall.EBADF
	}
	return fh.Write(ctx, data, off)
}

func (n *fuseNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh, ok := f.(*fuseFileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	return fh.Read(ctx, dest, off)
}
