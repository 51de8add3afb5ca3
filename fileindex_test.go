package f2f

import (
	"bytes"
	"testing"
)

func newTestFileIndex(t *testing.T) (Storage, *allocator, BlockAddress) {
	t.Helper()
	s := NewMemoryStorage()
	if err := s.Resize(storageDataStart); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := writeStorageHeader(s, &storageHeader{magic: storageHeaderMagic}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	al := newAllocator(s)
	addr, err := al.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := writeFileInode(s, addr, &fileInode{}); err != nil {
		t.Fatalf("write inode: %v", err)
	}
	return s, al, addr
}

func TestFileIndexGrowAndReadZeroFill(t *testing.T) {
	s, al, addr := newTestFileIndex(t)
	fx, err := loadFileIndex(s, al, addr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := fx.growToBlocks(3); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if fx.ino.BlocksCount != 3 {
		t.Fatalf("expected 3 blocks, got %d", fx.ino.BlocksCount)
	}

	for lb := uint64(0); lb < 3; lb++ {
		phys, found, err := fx.seek(lb)
		if err != nil || !found {
			t.Fatalf("seek(%d): found=%v err=%v", lb, found, err)
		}
		buf := make([]byte, blockSize)
		if _, err := s.ReadAt(buf, blockDataOffset(phys)); err != nil {
			t.Fatalf("readat: %v", err)
		}
		if !bytes.Equal(buf, make([]byte, blockSize)) {
			t.Fatalf("expected zero-filled block at logical %d", lb)
		}
	}

	if _, found, _ := fx.seek(3); found {
		t.Fatalf("block 3 should not be mapped")
	}
}

func TestFileIndexPromoteToIndirect(t *testing.T) {
	s, al, addr := newTestFileIndex(t)
	fx, err := loadFileIndex(s, al, addr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// force non-contiguous ranges so merging never collapses them below
	// fiDirect, driving promotion to the indirect tree.
	for i := 0; i < fiDirect+5; i++ {
		blk, err := al.Allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		// burn an odd block to break contiguity between appended ranges
		if _, err := al.Allocate(); err != nil {
			t.Fatalf("allocate spacer: %v", err)
		}
		if err := fx.appendRange(BlockRange{BlockIndex: uint64(blk), BlocksCount: 1, FileOffset: uint64(i)}); err != nil {
			t.Fatalf("append #%d: %v", i, err)
		}
	}

	if fx.ino.LevelsCount == 0 {
		t.Fatalf("expected promotion to indirect representation")
	}

	for i := 0; i < fiDirect+5; i++ {
		if _, found, err := fx.seek(uint64(i)); err != nil || !found {
			t.Fatalf("seek(%d) after promotion: found=%v err=%v", i, found, err)
		}
	}
}

func TestFileIndexTruncateReleasesBlocks(t *testing.T) {
	s, al, addr := newTestFileIndex(t)
	fx, err := loadFileIndex(s, al, addr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := fx.truncate(int64(10 * blockSize)); err != nil {
		t.Fatalf("grow truncate: %v", err)
	}
	if fx.ino.BlocksCount != 10 {
		t.Fatalf("expected 10 blocks, got %d", fx.ino.BlocksCount)
	}

	var before int
	al.EnumerateAllocated(func(BlockAddress) error { before++; return nil })

	if err := fx.truncate(int64(2 * blockSize)); err != nil {
		t.Fatalf("shrink truncate: %v", err)
	}
	if fx.ino.BlocksCount != 2 {
		t.Fatalf("expected 2 blocks after shrink, got %d", fx.ino.BlocksCount)
	}

	var after int
	al.EnumerateAllocated(func(BlockAddress) error { after++; return nil })
	if after >= before {
		t.Fatalf("expected fewer allocated blocks after shrink: before=%d after=%d", before, after)
	}

	if _, found, _ := fx.seek(2); found {
		t.Fatalf("block 2 should be unmapped after truncate to 2 blocks")
	}
}

func TestFileIndexTruncateToZeroIsIdempotent(t *testing.T) {
	s, al, addr := newTestFileIndex(t)
	fx, err := loadFileIndex(s, al, addr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := fx.truncate(0); err != nil {
		t.Fatalf("truncate empty file to 0: %v", err)
	}
	if err := fx.truncate(int64(5 * blockSize)); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if err := fx.truncate(0); err != nil {
		t.Fatalf("truncate to 0: %v", err)
	}
	if fx.ino.BlocksCount != 0 || fx.ino.LevelsCount != 0 {
		t.Fatalf("expected fully-inline empty file, got blocks=%d levels=%d", fx.ino.BlocksCount, fx.ino.LevelsCount)
	}
	if err := fx.truncate(0); err != nil {
		t.Fatalf("second truncate to 0: %v", err)
	}
}
