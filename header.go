package f2f

import (
	"encoding/binary"
)

// storageHeaderMagic identifies an f2f image. Stored little-endian.
const storageHeaderMagic uint16 = 0xF2F0

// storageHeaderSize is the on-disk size of storageHeader: a 2-byte magic, an
// 8-byte reserved area, and an 8-byte occupied block counter.
const storageHeaderSize = 18

// storageHeader is the very first thing in any image, read field-by-field
// with encoding/binary exactly as the teacher's Superblock is, since the
// reserved area has no native Go representation worth a fixed-size array
// beyond raw bytes.
type storageHeader struct {
	magic              uint16
	reserved           [8]byte
	occupiedBlocksCount uint64
}

func (h *storageHeader) marshal() []byte {
	buf := make([]byte, storageHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.magic)
	copy(buf[2:10], h.reserved[:])
	binary.LittleEndian.PutUint64(buf[10:18], h.occupiedBlocksCount)
	return buf
}

func (h *storageHeader) unmarshal(buf []byte) error {
	if len(buf) < storageHeaderSize {
		return ErrInvalidHeader
	}
	h.magic = binary.LittleEndian.Uint16(buf[0:2])
	copy(h.reserved[:], buf[2:10])
	h.occupiedBlocksCount = binary.LittleEndian.Uint64(buf[10:18])
	if h.magic != storageHeaderMagic {
		return ErrInvalidHeader
	}
	return nil
}

func readStorageHeader(s Storage) (*storageHeader, error) {
	buf := make([]byte, storageHeaderSize)
	if _, err := s.ReadAt(buf, 0); err != nil {
		return nil, ErrInvalidHeader
	}
	h := &storageHeader{}
	if err := h.unmarshal(buf); err != nil {
		return nil, err
	}
	return h, nil
}

func writeStorageHeader(s Storage, h *storageHeader) error {
	_, err := s.WriteAt(h.marshal(), 0)
	return err
}
