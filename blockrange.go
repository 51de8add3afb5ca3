package f2f

import "encoding/binary"

// BlockRange maps a contiguous run of file-logical blocks onto a
// contiguous run of physical blocks, grounded on
// src/format/File.hpp's BlockRange.
type BlockRange struct {
	BlockIndex  uint64 // 48 bits significant, stored as lo32/hi16
	BlocksCount uint16
	FileOffset  uint64 // logical block offset within the file
}

const blockRangeSize = 16

func (r BlockRange) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.BlockIndex))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(r.BlockIndex>>32))
	binary.LittleEndian.PutUint16(buf[6:8], r.BlocksCount)
	binary.LittleEndian.PutUint64(buf[8:16], r.FileOffset)
}

func decodeBlockRange(buf []byte) BlockRange {
	lo := binary.LittleEndian.Uint32(buf[0:4])
	hi := binary.LittleEndian.Uint16(buf[4:6])
	return BlockRange{
		BlockIndex:  uint64(lo) + uint64(hi)<<32,
		BlocksCount: binary.LittleEndian.Uint16(buf[6:8]),
		FileOffset:  binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// endOffset returns the logical block offset one past this range.
func (r BlockRange) endOffset() uint64 { return r.FileOffset + uint64(r.BlocksCount) }

// childNodeReference is an internal B+ tree node entry, unified across the
// file extent tree and the directory name tree per SPEC_FULL.md's
// ChildNodeReference decision: Key is a logical file offset (file tree) or
// a 32-bit name hash zero-extended to 64 bits (directory tree).
type childNodeReference struct {
	ChildBlockIndex uint64
	Key             uint64
}

const childRefSize = 16

func (c childNodeReference) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], c.ChildBlockIndex)
	binary.LittleEndian.PutUint64(buf[8:16], c.Key)
}

func decodeChildRef(buf []byte) childNodeReference {
	return childNodeReference{
		ChildBlockIndex: binary.LittleEndian.Uint64(buf[0:8]),
		Key:             binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// internalNodeHeaderSize/internalNodeCap: every B+ tree internal node
// (file or directory) is a uint16 item count followed by up to
// internalNodeCap childNodeReference entries.
const internalNodeHeaderSize = 2
const internalNodeCap = (blockSize - internalNodeHeaderSize) / childRefSize

func readInternalNode(s Storage, addr BlockAddress) ([]childNodeReference, error) {
	buf := make([]byte, blockSize)
	if _, err := s.ReadAt(buf, blockDataOffset(addr)); err != nil {
		return nil, err
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	if count > internalNodeCap {
		return nil, ErrInternal
	}
	items := make([]childNodeReference, count)
	for i := 0; i < count; i++ {
		off := internalNodeHeaderSize + i*childRefSize
		items[i] = decodeChildRef(buf[off : off+childRefSize])
	}
	return items, nil
}

func writeInternalNode(s Storage, addr BlockAddress, items []childNodeReference) error {
	if len(items) > internalNodeCap {
		return ErrInternal
	}
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(items)))
	for i, item := range items {
		off := internalNodeHeaderSize + i*childRefSize
		item.encode(buf[off : off+childRefSize])
	}
	_, err := s.WriteAt(buf, blockDataOffset(addr))
	return err
}
