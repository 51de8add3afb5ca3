package f2f

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidHeader is returned when the storage's magic number is missing or wrong.
	ErrInvalidHeader = errors.New("f2f: invalid storage header, magic not found")

	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = errors.New("f2f: no such file or directory")

	// ErrExists is returned when creating a file or directory that already exists
	// with an incompatible type.
	ErrExists = errors.New("f2f: file exists")

	// ErrNotDirectory is returned when a non-directory is used where a directory is required.
	ErrNotDirectory = errors.New("f2f: not a directory")

	// ErrIsDirectory is returned when a directory is used where a regular file is required.
	ErrIsDirectory = errors.New("f2f: is a directory")

	// ErrNotEmpty reports a directory that still has entries. Filesystem.Remove
	// deletes directories recursively and does not return it.
	ErrNotEmpty = errors.New("f2f: directory not empty")

	// ErrLocked is returned when opening a file in a mode that conflicts with
	// another already-open handle on the same inode.
	ErrLocked = errors.New("f2f: file is locked")

	// ErrInvalidName is returned for empty names or names longer than
	// maxFileNameSize (950) bytes. Name bytes are not otherwise checked.
	ErrInvalidName = errors.New("f2f: invalid file name")

	// ErrOutOfSpace is returned by Open/Create once the open-file bound set
	// with WithMaxOpenFiles is reached. Storage growth failures are returned
	// as the Storage's own errors instead.
	ErrOutOfSpace = errors.New("f2f: storage exhausted")

	// ErrReadOnly is returned when a write or truncate is attempted on a
	// handle opened ReadOnly.
	ErrReadOnly = errors.New("f2f: filesystem or handle is read-only")

	// ErrClosed is returned when operating on an already-closed file handle.
	ErrClosed = errors.New("f2f: use of closed handle")

	// ErrInvalidPath is returned for malformed paths (e.g. "." or ".." used as a bare target
	// where a named component is required).
	ErrInvalidPath = errors.New("f2f: invalid path")

	// ErrCantRemoveRoot is returned by Remove when asked to remove the root
	// directory itself.
	ErrCantRemoveRoot = errors.New("f2f: cannot remove the root directory")

	// ErrInternal marks an internal consistency check failure: corrupted
	// storage or a bug in the library, analogous to the original
	// implementation's format/runtime assertions.
	ErrInternal = errors.New("f2f: internal consistency check failed")
)
