package f2f

import "io"

// FileHandle is a cursor onto one open regular file's contents, returned
// by Filesystem.Open/Create. It is not safe for concurrent use.
type FileHandle struct {
	fs   *Filesystem
	addr BlockAddress
	mode OpenMode
	fx   *fileIndex
	pos  int64
	done bool
}

// Size returns the file's current length in bytes.
func (h *FileHandle) Size() int64 {
	return int64(h.fx.ino.FileSize)
}

func (h *FileHandle) checkOpen() error {
	if h.done {
		return ErrClosed
	}
	return nil
}

// ReadAt reads len(p) bytes starting at byte offset off, following
// io.ReaderAt's contract (including returning io.EOF once nothing more
// can be read).
func (h *FileHandle) ReadAt(p []byte, off int64) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrInvalidPath
	}
	size := int64(h.fx.ino.FileSize)
	if off >= size {
		return 0, io.EOF
	}
	want := len(p)
	if off+int64(len(p)) > size {
		p = p[:size-off]
	}

	total := 0
	for total < len(p) {
		cur := off + int64(total)
		lb := uint64(cur) / blockSize
		inBlock := int(uint64(cur) % blockSize)
		n := blockSize - inBlock
		if remain := len(p) - total; n > remain {
			n = remain
		}

		addr, found, err := h.fx.seek(lb)
		if err != nil {
			return total, err
		}
		if !found {
			for i := 0; i < n; i++ {
				p[total+i] = 0
			}
		} else {
			buf := make([]byte, blockSize)
			if _, err := h.fs.storage.ReadAt(buf, blockDataOffset(addr)); err != nil && err != io.EOF {
				return total, err
			}
			copy(p[total:total+n], buf[inBlock:inBlock+n])
		}
		total += n
	}
	if total < want {
		return total, io.EOF
	}
	return total, nil
}

// WriteAt writes p at byte offset off, growing the file (zero-filling any
// gap) if off+len(p) exceeds the current size.
func (h *FileHandle) WriteAt(p []byte, off int64) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if h.mode != ReadWrite {
		return 0, ErrReadOnly
	}
	if off < 0 {
		return 0, ErrInvalidPath
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p))
	neededBlocks := uint64((end + blockSize - 1) / blockSize)
	if neededBlocks > h.fx.ino.BlocksCount {
		if err := h.fx.growToBlocks(neededBlocks); err != nil {
			return 0, err
		}
	}

	total := 0
	for total < len(p) {
		cur := off + int64(total)
		lb := uint64(cur) / blockSize
		inBlock := int(uint64(cur) % blockSize)
		n := blockSize - inBlock
		if remain := len(p) - total; n > remain {
			n = remain
		}

		addr, found, err := h.fx.seek(lb)
		if err != nil {
			return total, err
		}
		if !found {
			return total, ErrInternal
		}
		if _, err := h.fs.storage.WriteAt(p[total:total+n], blockDataOffset(addr)+int64(inBlock)); err != nil {
			return total, err
		}
		total += n
	}

	if uint64(end) > h.fx.ino.FileSize {
		h.fx.ino.FileSize = uint64(end)
	}
	return total, nil
}

// Read reads from the handle's current position and advances it.
func (h *FileHandle) Read(p []byte) (int, error) {
	n, err := h.ReadAt(p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Write writes at the handle's current position and advances it.
func (h *FileHandle) Write(p []byte) (int, error) {
	n, err := h.WriteAt(p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (h *FileHandle) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = h.pos
	case io.SeekEnd:
		base = h.Size()
	default:
		return 0, ErrInvalidPath
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, ErrInvalidPath
	}
	h.pos = newPos
	return newPos, nil
}

// Truncate sets the file's size, zero-filling on growth and releasing
// blocks on shrink.
func (h *FileHandle) Truncate(size int64) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if h.mode != ReadWrite {
		return ErrReadOnly
	}
	if size < 0 {
		return ErrInvalidPath
	}
	return h.fx.truncate(size)
}

// Flush persists the handle's inode without closing it.
func (h *FileHandle) Flush() error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.fx.flush(h.fs.storage, h.addr)
}

// Close flushes pending metadata and releases the handle's slot in the
// filesystem's open-file registry, completing any deferred delete.
func (h *FileHandle) Close() error {
	if h.done {
		return ErrClosed
	}
	h.done = true
	var flushErr error
	if h.mode == ReadWrite {
		flushErr = h.fx.flush(h.fs.storage, h.addr)
	}
	if err := h.fs.releaseHandle(h.addr); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
