package f2f

// Filesystem is the coordinator tying the block allocator, file extent
// index and directory index together into a hierarchical namespace: path
// resolution, an open-file registry with deferred delete, and directory
// iterator invalidation, grounded on src/FileSystem.cpp of the original.
//
// A Filesystem is not safe for concurrent use by multiple goroutines
// without external locking; see SPEC_FULL.md Non-goals.
type Filesystem struct {
	storage Storage
	al      *allocator

	maxOpenFiles int
	openFiles    map[BlockAddress]*openFileRecord
	dirGen       map[BlockAddress]uint64
}

type openFileRecord struct {
	refCount int
	mode     OpenMode
	deleted  bool
}

// Format initializes a brand-new, empty image on s: a fresh header and a
// root directory allocated first, so it always lives at RootAddress.
func Format(s Storage, opts ...Option) (*Filesystem, error) {
	fs := newFilesystem(s)
	for _, o := range opts {
		if err := o(fs); err != nil {
			return nil, err
		}
	}

	if err := s.Resize(storageHeaderSize); err != nil {
		return nil, err
	}
	hdr := &storageHeader{magic: storageHeaderMagic}
	if err := writeStorageHeader(s, hdr); err != nil {
		return nil, err
	}

	rootAddr, err := fs.al.Allocate()
	if err != nil {
		return nil, err
	}
	if rootAddr != RootAddress {
		return nil, ErrInternal
	}
	// the root is its own parent, per the parent-of-root-is-root convention.
	root := newDirectory(fs.al, rootAddr)
	if err := writeDirectoryInode(s, rootAddr, root.ino); err != nil {
		return nil, err
	}
	return fs, nil
}

// Open attaches a Filesystem to an already-formatted image.
func Open(s Storage, opts ...Option) (*Filesystem, error) {
	if _, err := readStorageHeader(s); err != nil {
		return nil, err
	}
	fs := newFilesystem(s)
	for _, o := range opts {
		if err := o(fs); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func newFilesystem(s Storage) *Filesystem {
	return &Filesystem{
		storage:   s,
		al:        newAllocator(s),
		openFiles: make(map[BlockAddress]*openFileRecord),
		dirGen:    make(map[BlockAddress]uint64),
	}
}

// Close flushes the backing store. StorageHeader.occupiedBlocksCount is
// already current: the allocator rewrites it as part of every Allocate and
// Release, per §4.1's "header is the commit point" step, so there is
// nothing left to reconcile here.
func (fs *Filesystem) Close() error {
	return fs.storage.Sync()
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// walkComps resolves a sequence of path components starting at the root,
// following "." and ".." the same way src/FileSystem.cpp's searchFile
// does: "." is a no-op, ".." moves to the current directory's recorded
// parent. The root's own parent is itself (see Format), so ".." above the
// root is naturally a no-op rather than a special case here.
func (fs *Filesystem) walkComps(comps []string) (BlockAddress, FileType, error) {
	cur := RootAddress
	curType := TypeDirectory
	for _, name := range comps {
		switch name {
		case ".":
			continue
		case "..":
			dir, err := loadDirectory(fs.storage, fs.al, cur)
			if err != nil {
				return 0, 0, err
			}
			// the root's own parent is itself, so this naturally stays put.
			cur = dir.ino.Parent
			curType = TypeDirectory
			continue
		}
		if curType != TypeDirectory {
			return 0, 0, ErrNotDirectory
		}
		dir, err := loadDirectory(fs.storage, fs.al, cur)
		if err != nil {
			return 0, 0, err
		}
		item, found, err := dir.search(name)
		if err != nil {
			return 0, 0, err
		}
		if !found {
			return 0, TypeNone, ErrNotFound
		}
		cur = item.Inode
		curType = item.fileType()
	}
	return cur, curType, nil
}

func (fs *Filesystem) walk(path string) (BlockAddress, FileType, error) {
	return fs.walkComps(splitPath(path))
}

// resolveParent resolves path to (parent directory address, base name),
// rejecting the root itself and a bare "." or ".." as targets.
func (fs *Filesystem) resolveParent(path string) (BlockAddress, string, error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return 0, "", ErrInvalidPath
	}
	base := comps[len(comps)-1]
	if base == "." || base == ".." {
		return 0, "", ErrInvalidPath
	}
	parentAddr, parentType, err := fs.walkComps(comps[:len(comps)-1])
	if err != nil {
		return 0, "", err
	}
	if parentType != TypeDirectory {
		return 0, "", ErrNotDirectory
	}
	return parentAddr, base, nil
}

// Stat reports the type of the file system object at path.
func (fs *Filesystem) Stat(path string) (FileType, error) {
	_, ftype, err := fs.walk(path)
	return ftype, err
}

// Exists reports whether path currently resolves to an entry, per §6.2's
// exists(path) → bool. Any resolution error (including ErrNotFound) is
// reported as false rather than propagated.
func (fs *Filesystem) Exists(path string) bool {
	_, _, err := fs.walk(path)
	return err == nil
}

// FileSize returns the size in bytes of the regular file at path, per
// §6.2's fileSize(path) → u64, without opening a handle on it.
func (fs *Filesystem) FileSize(path string) (uint64, error) {
	addr, ftype, err := fs.walk(path)
	if err != nil {
		return 0, err
	}
	if ftype != TypeRegular {
		return 0, ErrIsDirectory
	}
	ino, err := readFileInode(fs.storage, addr)
	if err != nil {
		return 0, err
	}
	return ino.FileSize, nil
}

func (fs *Filesystem) dirGeneration(addr BlockAddress) uint64 {
	return fs.dirGen[addr]
}

func (fs *Filesystem) bumpGeneration(addr BlockAddress) {
	fs.dirGen[addr]++
}

func (fs *Filesystem) unregisterIterator(*DirectoryIterator) {}

// Mkdir creates a directory at path. It is idempotent if a directory
// already exists there, and returns ErrExists if a regular file does,
// mirroring src/FileSystem.cpp's createDirectory.
func (fs *Filesystem) Mkdir(path string) error {
	parentAddr, base, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	parentDir, err := loadDirectory(fs.storage, fs.al, parentAddr)
	if err != nil {
		return err
	}

	newAddr, err := fs.al.Allocate()
	if err != nil {
		return err
	}
	nd := newDirectory(fs.al, parentAddr)
	if err := writeDirectoryInode(fs.storage, newAddr, nd.ino); err != nil {
		return err
	}

	if err := parentDir.insert(base, newAddr, TypeDirectory); err != nil {
		fs.al.Release(newAddr)
		if err == ErrExists {
			if existing, found, serr := parentDir.search(base); serr == nil && found && existing.fileType() == TypeDirectory {
				return nil
			}
		}
		return err
	}
	fs.bumpGeneration(parentAddr)
	return nil
}

// Create creates (or truncates, if it already exists) a regular file at
// path and returns a ReadWrite handle to it.
func (fs *Filesystem) Create(path string) (*FileHandle, error) {
	parentAddr, base, err := fs.resolveParent(path)
	if err != nil {
		return nil, err
	}
	parentDir, err := loadDirectory(fs.storage, fs.al, parentAddr)
	if err != nil {
		return nil, err
	}

	if existing, found, err := parentDir.search(base); err != nil {
		return nil, err
	} else if found {
		if existing.fileType() != TypeRegular {
			return nil, ErrIsDirectory
		}
		h, err := fs.openHandle(existing.Inode, ReadWrite)
		if err != nil {
			return nil, err
		}
		if err := h.Truncate(0); err != nil {
			h.Close()
			return nil, err
		}
		return h, nil
	}

	newAddr, err := fs.al.Allocate()
	if err != nil {
		return nil, err
	}
	if err := writeFileInode(fs.storage, newAddr, &fileInode{}); err != nil {
		return nil, err
	}
	if err := parentDir.insert(base, newAddr, TypeRegular); err != nil {
		fs.al.Release(newAddr)
		return nil, err
	}
	fs.bumpGeneration(parentAddr)
	return fs.openHandle(newAddr, ReadWrite)
}

// Open opens an existing regular file at path in the given mode.
func (fs *Filesystem) Open(path string, mode OpenMode) (*FileHandle, error) {
	addr, ftype, err := fs.walk(path)
	if err != nil {
		return nil, err
	}
	if ftype != TypeRegular {
		return nil, ErrIsDirectory
	}
	return fs.openHandle(addr, mode)
}

// openHandle implements the lock matrix: a ReadWrite handle excludes every
// other handle on the same inode; ReadOnly handles may coexist with each
// other but not with an existing ReadWrite one.
func (fs *Filesystem) openHandle(addr BlockAddress, mode OpenMode) (*FileHandle, error) {
	if rec, ok := fs.openFiles[addr]; ok {
		if mode == ReadWrite || rec.mode == ReadWrite {
			return nil, ErrLocked
		}
		rec.refCount++
	} else {
		if fs.maxOpenFiles > 0 && len(fs.openFiles) >= fs.maxOpenFiles {
			return nil, ErrOutOfSpace
		}
		fs.openFiles[addr] = &openFileRecord{refCount: 1, mode: mode}
	}

	fx, err := loadFileIndex(fs.storage, fs.al, addr)
	if err != nil {
		fs.releaseHandle(addr)
		return nil, err
	}
	return &FileHandle{fs: fs, addr: addr, mode: mode, fx: fx}, nil
}

// releaseHandle drops one reference on addr's open-file record, and
// completes a deferred delete once the last handle closes.
func (fs *Filesystem) releaseHandle(addr BlockAddress) error {
	rec, ok := fs.openFiles[addr]
	if !ok {
		return nil
	}
	rec.refCount--
	if rec.refCount > 0 {
		return nil
	}
	delete(fs.openFiles, addr)
	if rec.deleted {
		return fs.reallyDeleteFile(addr)
	}
	return nil
}

func (fs *Filesystem) reallyDeleteFile(addr BlockAddress) error {
	fx, err := loadFileIndex(fs.storage, fs.al, addr)
	if err != nil {
		return err
	}
	if err := fx.truncate(0); err != nil {
		return err
	}
	return fs.al.Release(addr)
}

// Remove deletes the file at path, or recursively removes the directory at
// path and everything beneath it. A regular file that is currently open is
// unlinked from its directory immediately but its blocks are only released
// once the last open handle closes (deferred delete, matching
// src/FileSystem.cpp's openFile/FileDescriptor cleanup). Removing a
// directory recursively deletes its contents the same way, per §4.4's
// "breadth/depth-first traversal... routing to itself for subdirectories
// and to the regular-file policy for files".
func (fs *Filesystem) Remove(path string) error {
	if len(splitPath(path)) == 0 {
		return ErrCantRemoveRoot
	}
	parentAddr, base, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	parentDir, err := loadDirectory(fs.storage, fs.al, parentAddr)
	if err != nil {
		return err
	}
	item, found, err := parentDir.search(base)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	if item.fileType() == TypeDirectory {
		if _, err := parentDir.remove(base); err != nil {
			return err
		}
		fs.bumpGeneration(parentAddr)
		return fs.removeDirectoryRecursive(item.Inode)
	}

	if _, err := parentDir.remove(base); err != nil {
		return err
	}
	fs.bumpGeneration(parentAddr)
	return fs.removeFileEntry(item.Inode)
}

// removeFileEntry applies the §4.4 regular-file removal policy to an inode
// already unlinked from its parent directory: if it is currently open, mark
// it for deferred delete; otherwise release its blocks immediately.
func (fs *Filesystem) removeFileEntry(addr BlockAddress) error {
	if rec, open := fs.openFiles[addr]; open {
		rec.deleted = true
		return nil
	}
	return fs.reallyDeleteFile(addr)
}

// removeDirectoryRecursive implements §4.3's "remove-entire-directory"
// walk for a directory already unlinked from its parent: every contained
// entry is routed back to itself (subdirectories) or to the regular-file
// policy (files), the directory's own index blocks are released once every
// entry has been handed off, and finally its inode block is released. The
// directory's generation counter is kept (not reset), so any iterator still
// open on this directory (or any directory beneath it) is invalidated by
// the generation bump before the recursive walk begins.
func (fs *Filesystem) removeDirectoryRecursive(addr BlockAddress) error {
	fs.bumpGeneration(addr)
	dir, err := loadDirectory(fs.storage, fs.al, addr)
	if err != nil {
		return err
	}
	err = dir.removeAll(func(inode BlockAddress, ftype FileType) error {
		if ftype == TypeDirectory {
			return fs.removeDirectoryRecursive(inode)
		}
		return fs.removeFileEntry(inode)
	})
	if err != nil {
		return err
	}
	return fs.al.Release(addr)
}

// ReadDir returns an iterator over path's entries as they exist right now.
// The iterator is invalidated by any later mutation of that directory.
func (fs *Filesystem) ReadDir(path string) (*DirectoryIterator, error) {
	addr, ftype, err := fs.walk(path)
	if err != nil {
		return nil, err
	}
	if ftype != TypeDirectory {
		return nil, ErrNotDirectory
	}
	dir, err := loadDirectory(fs.storage, fs.al, addr)
	if err != nil {
		return nil, err
	}
	entries, err := dir.allEntries()
	if err != nil {
		return nil, err
	}
	return newDirectoryIterator(fs, addr, entries), nil
}
