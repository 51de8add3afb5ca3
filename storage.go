package f2f

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Storage is the external collaborator every Filesystem is built on: a
// single byte-addressable address space that can be read, written, and
// grown. Any type satisfying it — a file, a shared-memory segment, a block
// device — can back an image.
type Storage interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the current size of the backing store in bytes.
	Size() (int64, error)

	// Resize grows or shrinks the backing store to exactly newSize bytes.
	// Growing must zero-fill the new region.
	Resize(newSize int64) error

	// Sync flushes any buffered writes to stable storage. Implementations
	// that are always durable (e.g. MemoryStorage) may no-op.
	Sync() error
}

// MemoryStorage is an in-memory Storage, primarily meant for tests and for
// short-lived images that never need to outlive the process.
type MemoryStorage struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStorage returns an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("f2f: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("f2f: negative offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[off:end], p)
	return n, nil
}

func (m *MemoryStorage) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

func (m *MemoryStorage) Resize(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newSize < 0 {
		return fmt.Errorf("f2f: negative size %d", newSize)
	}
	if newSize <= int64(len(m.data)) {
		m.data = m.data[:newSize]
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *MemoryStorage) Sync() error { return nil }

// SnapshotCompressed serializes the current image to w as a zstd stream, for
// saving compact test fixtures. It is a development/test convenience, not
// part of the on-disk format: the image is never compressed in place.
func (m *MemoryStorage) SnapshotCompressed(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := enc.Write(m.data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// RestoreCompressed replaces the current image with the zstd stream read
// from r, the inverse of SnapshotCompressed.
func (m *MemoryStorage) RestoreCompressed(r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = buf.Bytes()
	return nil
}
