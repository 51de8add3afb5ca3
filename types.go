package f2f

import "fmt"

// BlockAddress identifies a block by its logical index within the data
// block space (as opposed to its absolute byte offset, which also accounts
// for interleaved occupancy blocks; see blockDataOffset).
type BlockAddress uint64

// NoAddress is the sentinel "no block" address, used to terminate leaf
// chains and mark absent child references.
const NoAddress BlockAddress = ^BlockAddress(0)

// RootAddress is the fixed address of the root directory's inode. Format
// allocates it first, so it is always block 0.
const RootAddress BlockAddress = 0

func (a BlockAddress) String() string {
	if a == NoAddress {
		return "<none>"
	}
	return fmt.Sprintf("block(%d)", uint64(a))
}

// FileType distinguishes the two kinds of directory entries a directory
// index can hold.
type FileType int

const (
	// TypeNone is returned by lookups that found nothing.
	TypeNone FileType = iota
	TypeRegular
	TypeDirectory
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return "none"
	}
}

// OpenMode controls the lock semantics applied by the Filesystem's open-file
// registry (see §4.4/§5 of the design: a ReadWrite handle excludes every
// other handle on the same inode, ReadOnly handles may coexist with each
// other but not with a ReadWrite one).
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

func (m OpenMode) String() string {
	if m == ReadWrite {
		return "rw"
	}
	return "ro"
}
