//go:build !unix

package f2f

import "os"

func fileStoragePreallocate(f *os.File, newSize int64) error {
	return nil
}
