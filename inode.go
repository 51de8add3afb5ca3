package f2f

import "encoding/binary"

// fiDirect/fiIndirect are the inline slot counts carried over from the
// original format/Inode.hpp FileInode's fixed-size arrays.
const fiDirect = 20
const fiIndirect = 20

const fileInodeHeaderSize = 2 + 8 + 8 + 32 + 2 // flags, fileSize, blocksCount, reserved, levelsCount

// fileInode is the on-storage record for a regular file: a small fixed
// header plus an inline union that is either up to fiDirect BlockRanges
// (small/fresh files) or up to fiIndirect childNodeReferences pointing at
// a B+ tree of BlockRanges (§4.2).
type fileInode struct {
	Flags       uint16
	FileSize    uint64
	BlocksCount uint64
	LevelsCount uint16 // 0 = inline direct ranges; N>=1 = indirect tree N levels deep

	Direct   []BlockRange         // valid when LevelsCount == 0
	Indirect []childNodeReference // valid when LevelsCount > 0
}

func (fi *fileInode) marshal() []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint16(buf[0:2], fi.Flags)
	binary.LittleEndian.PutUint64(buf[2:10], fi.FileSize)
	binary.LittleEndian.PutUint64(buf[10:18], fi.BlocksCount)
	binary.LittleEndian.PutUint16(buf[50:52], fi.LevelsCount)

	payload := buf[fileInodeHeaderSize:]
	if fi.LevelsCount == 0 {
		binary.LittleEndian.PutUint16(payload[0:2], uint16(len(fi.Direct)))
		for i, r := range fi.Direct {
			off := 2 + i*blockRangeSize
			r.encode(payload[off : off+blockRangeSize])
		}
	} else {
		binary.LittleEndian.PutUint16(payload[0:2], uint16(len(fi.Indirect)))
		for i, c := range fi.Indirect {
			off := 2 + i*childRefSize
			c.encode(payload[off : off+childRefSize])
		}
	}
	return buf
}

func unmarshalFileInode(buf []byte) (*fileInode, error) {
	if len(buf) < blockSize {
		return nil, ErrInternal
	}
	fi := &fileInode{
		Flags:       binary.LittleEndian.Uint16(buf[0:2]),
		FileSize:    binary.LittleEndian.Uint64(buf[2:10]),
		BlocksCount: binary.LittleEndian.Uint64(buf[10:18]),
		LevelsCount: binary.LittleEndian.Uint16(buf[50:52]),
	}
	payload := buf[fileInodeHeaderSize:]
	count := int(binary.LittleEndian.Uint16(payload[0:2]))
	if fi.LevelsCount == 0 {
		if count > fiDirect {
			return nil, ErrInternal
		}
		fi.Direct = make([]BlockRange, count)
		for i := range fi.Direct {
			off := 2 + i*blockRangeSize
			fi.Direct[i] = decodeBlockRange(payload[off : off+blockRangeSize])
		}
	} else {
		if count > fiIndirect {
			return nil, ErrInternal
		}
		fi.Indirect = make([]childNodeReference, count)
		for i := range fi.Indirect {
			off := 2 + i*childRefSize
			fi.Indirect[i] = decodeChildRef(payload[off : off+childRefSize])
		}
	}
	return fi, nil
}

// diIndirect is the inline slot count for a directory inode's indirect
// child references; diDataMax bounds the inline packed leaf payload.
const directoryInodeHeaderSize = 2 + 8 + 2 // flags, parentDirectoryInode, levelsCount

const diIndirect = (blockSize - directoryInodeHeaderSize - 2) / childRefSize
const diDataMax = blockSize - directoryInodeHeaderSize - 2

// directoryInode is the on-storage record for a directory: a small fixed
// header plus an inline union that is either a packed run of directory
// leaf items (fresh/small directories) or a B+ tree of name-hash-keyed
// children (§4.3).
type directoryInode struct {
	Flags       uint16
	Parent      BlockAddress
	LevelsCount uint16

	DirectData []byte               // packed leaf items, valid when LevelsCount == 0
	Indirect   []childNodeReference // valid when LevelsCount > 0
}

func (di *directoryInode) marshal() []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint16(buf[0:2], di.Flags)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(di.Parent))
	binary.LittleEndian.PutUint16(buf[10:12], di.LevelsCount)

	payload := buf[directoryInodeHeaderSize:]
	if di.LevelsCount == 0 {
		binary.LittleEndian.PutUint16(payload[0:2], uint16(len(di.DirectData)))
		copy(payload[2:], di.DirectData)
	} else {
		binary.LittleEndian.PutUint16(payload[0:2], uint16(len(di.Indirect)))
		for i, c := range di.Indirect {
			off := 2 + i*childRefSize
			c.encode(payload[off : off+childRefSize])
		}
	}
	return buf
}

func unmarshalDirectoryInode(buf []byte) (*directoryInode, error) {
	if len(buf) < blockSize {
		return nil, ErrInternal
	}
	di := &directoryInode{
		Flags:       binary.LittleEndian.Uint16(buf[0:2]),
		Parent:      BlockAddress(binary.LittleEndian.Uint64(buf[2:10])),
		LevelsCount: binary.LittleEndian.Uint16(buf[10:12]),
	}
	payload := buf[directoryInodeHeaderSize:]
	if di.LevelsCount == 0 {
		size := int(binary.LittleEndian.Uint16(payload[0:2]))
		if size > diDataMax {
			return nil, ErrInternal
		}
		di.DirectData = make([]byte, size)
		copy(di.DirectData, payload[2:2+size])
	} else {
		count := int(binary.LittleEndian.Uint16(payload[0:2]))
		if count > diIndirect {
			return nil, ErrInternal
		}
		di.Indirect = make([]childNodeReference, count)
		for i := range di.Indirect {
			off := 2 + i*childRefSize
			di.Indirect[i] = decodeChildRef(payload[off : off+childRefSize])
		}
	}
	return di, nil
}

func readFileInode(s Storage, addr BlockAddress) (*fileInode, error) {
	buf := make([]byte, blockSize)
	if _, err := s.ReadAt(buf, blockDataOffset(addr)); err != nil {
		return nil, err
	}
	return unmarshalFileInode(buf)
}

func writeFileInode(s Storage, addr BlockAddress, fi *fileInode) error {
	_, err := s.WriteAt(fi.marshal(), blockDataOffset(addr))
	return err
}

func readDirectoryInode(s Storage, addr BlockAddress) (*directoryInode, error) {
	buf := make([]byte, blockSize)
	if _, err := s.ReadAt(buf, blockDataOffset(addr)); err != nil {
		return nil, err
	}
	return unmarshalDirectoryInode(buf)
}

func writeDirectoryInode(s Storage, addr BlockAddress, di *directoryInode) error {
	_, err := s.WriteAt(di.marshal(), blockDataOffset(addr))
	return err
}
