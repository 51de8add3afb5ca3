package f2f

import "os"

// FileStorage is an os.File-backed Storage, the on-disk counterpart to
// MemoryStorage, grounded on the original implementation's FileStorage.cpp.
type FileStorage struct {
	f *os.File
}

// OpenFileStorage opens (creating if necessary) path as a Storage.
func OpenFileStorage(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileStorage{f: f}, nil
}

func (fs *FileStorage) ReadAt(p []byte, off int64) (int, error)  { return fs.f.ReadAt(p, off) }
func (fs *FileStorage) WriteAt(p []byte, off int64) (int, error) { return fs.f.WriteAt(p, off) }

func (fs *FileStorage) Size() (int64, error) {
	st, err := fs.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (fs *FileStorage) Resize(newSize int64) error {
	if err := fs.f.Truncate(newSize); err != nil {
		return err
	}
	return fileStoragePreallocate(fs.f, newSize)
}

func (fs *FileStorage) Sync() error { return fs.f.Sync() }

// Close closes the underlying file.
func (fs *FileStorage) Close() error { return fs.f.Close() }
