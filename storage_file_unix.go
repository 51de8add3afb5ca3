//go:build unix

package f2f

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileStoragePreallocate hints to the filesystem that newSize bytes are
// needed, the same role golang.org/x/sys plays for the teacher's
// platform-specific inode helpers.
func fileStoragePreallocate(f *os.File, newSize int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, newSize)
	if err != nil && err != unix.ENOTSUP && err != unix.EOPNOTSUPP {
		// Fallocate is a hint; only bail out on errors that indicate the
		// descriptor itself is bad, not unsupported-operation errors.
		if err == unix.EBADF || err == unix.EINVAL {
			return err
		}
	}
	return nil
}
