package f2f

import "encoding/binary"

// The file extent index maps a file's logical block numbers onto physical
// block addresses. Small/fresh files keep their ranges inline in the
// inode (fileInode.Direct); once that fills up the file is promoted to an
// indirect B+ tree of BlockRanges, grounded on src/FileBlocks.cpp and
// src/format/File.hpp of the original, adapted to the inline/indirect
// union the current format/Inode.hpp describes.
//
// Mutation is append-only at the tail and truncate-only from the tail,
// mirroring the original: nothing ever inserts a range in the middle of
// an existing file, since overwriting bytes within an already-allocated
// block never changes the extent mapping.

const fileLeafHeaderSize = 2 + 8 // itemsCount, nextLeafNode
const fileLeafCap = (blockSize - fileLeafHeaderSize) / blockRangeSize

type fileLeaf struct {
	Items []BlockRange
	Next  BlockAddress
}

func readFileLeaf(s Storage, addr BlockAddress) (*fileLeaf, error) {
	buf := make([]byte, blockSize)
	if _, err := s.ReadAt(buf, blockDataOffset(addr)); err != nil {
		return nil, err
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	if count > fileLeafCap {
		return nil, ErrInternal
	}
	leaf := &fileLeaf{
		Next:  BlockAddress(binary.LittleEndian.Uint64(buf[2:10])),
		Items: make([]BlockRange, count),
	}
	for i := range leaf.Items {
		off := fileLeafHeaderSize + i*blockRangeSize
		leaf.Items[i] = decodeBlockRange(buf[off : off+blockRangeSize])
	}
	return leaf, nil
}

func writeFileLeaf(s Storage, addr BlockAddress, leaf *fileLeaf) error {
	if len(leaf.Items) > fileLeafCap {
		return ErrInternal
	}
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(leaf.Items)))
	binary.LittleEndian.PutUint64(buf[2:10], uint64(leaf.Next))
	for i, r := range leaf.Items {
		off := fileLeafHeaderSize + i*blockRangeSize
		r.encode(buf[off : off+blockRangeSize])
	}
	_, err := s.WriteAt(buf, blockDataOffset(addr))
	return err
}

// fileIndex is a working copy of one file's inode plus the storage/allocator
// it is bound to; Flush persists ino back to addr.
type fileIndex struct {
	s   Storage
	al  *allocator
	ino *fileInode
}

func loadFileIndex(s Storage, al *allocator, addr BlockAddress) (*fileIndex, error) {
	ino, err := readFileInode(s, addr)
	if err != nil {
		return nil, err
	}
	return &fileIndex{s: s, al: al, ino: ino}, nil
}

func newFileIndex(al *allocator) *fileIndex {
	return &fileIndex{al: al, ino: &fileInode{}}
}

func (fx *fileIndex) flush(s Storage, addr BlockAddress) error {
	return writeFileInode(s, addr, fx.ino)
}

// seek returns the physical block address holding logical block `lb`, and
// whether it is mapped at all.
func (fx *fileIndex) seek(lb uint64) (BlockAddress, bool, error) {
	if fx.ino.LevelsCount == 0 {
		for _, r := range fx.ino.Direct {
			if lb >= r.FileOffset && lb < r.endOffset() {
				return BlockAddress(r.BlockIndex + (lb - r.FileOffset)), true, nil
			}
		}
		return 0, false, nil
	}

	children := fx.ino.Indirect
	levelsRemain := int(fx.ino.LevelsCount)
	for levelsRemain > 1 {
		idx := findChildForKey(children, lb)
		sub, err := readInternalNode(fx.s, BlockAddress(children[idx].ChildBlockIndex))
		if err != nil {
			return 0, false, err
		}
		children = sub
		levelsRemain--
	}
	idx := findChildForKey(children, lb)
	addr := BlockAddress(children[idx].ChildBlockIndex)
	for addr != NoAddress {
		leaf, err := readFileLeaf(fx.s, addr)
		if err != nil {
			return 0, false, err
		}
		for _, r := range leaf.Items {
			if lb >= r.FileOffset && lb < r.endOffset() {
				return BlockAddress(r.BlockIndex + (lb - r.FileOffset)), true, nil
			}
		}
		if leaf.Next == NoAddress || (len(leaf.Items) > 0 && lb < leaf.Items[len(leaf.Items)-1].endOffset()) {
			break
		}
		addr = leaf.Next
	}
	return 0, false, nil
}

// findChildForKey returns the index of the rightmost child whose Key is <=
// target, i.e. a lower_bound-then-step-back as in the original.
func findChildForKey(children []childNodeReference, target uint64) int {
	idx := 0
	for i, c := range children {
		if c.Key <= target {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// appendRange appends a new, logically-following BlockRange at the end of
// the file (the only place ranges are ever inserted).
func (fx *fileIndex) appendRange(nr BlockRange) error {
	if fx.ino.LevelsCount == 0 {
		if n := len(fx.ino.Direct); n > 0 && tryMergeRange(&fx.ino.Direct[n-1], nr) {
			return nil
		}
		if len(fx.ino.Direct) < fiDirect {
			fx.ino.Direct = append(fx.ino.Direct, nr)
			return nil
		}
		return fx.promoteToIndirect(nr)
	}

	newChildren, extra, err := fx.appendToLevel(fx.ino.Indirect, int(fx.ino.LevelsCount), nr)
	if err != nil {
		return err
	}
	fx.ino.Indirect = newChildren
	if extra == nil && len(fx.ino.Indirect) <= fiIndirect {
		return nil
	}
	if extra != nil && len(fx.ino.Indirect) < fiIndirect {
		fx.ino.Indirect = append(fx.ino.Indirect, *extra)
		return nil
	}
	oldAddr, err := fx.al.Allocate()
	if err != nil {
		return err
	}
	if err := writeInternalNode(fx.s, oldAddr, fx.ino.Indirect); err != nil {
		return err
	}
	oldRef := childNodeReference{ChildBlockIndex: uint64(oldAddr), Key: fx.ino.Indirect[0].Key}
	fx.ino.Indirect = []childNodeReference{oldRef}
	if extra != nil {
		fx.ino.Indirect = append(fx.ino.Indirect, *extra)
	}
	fx.ino.LevelsCount++
	return nil
}

func tryMergeRange(last *BlockRange, nr BlockRange) bool {
	if last.endOffset() == nr.FileOffset &&
		last.BlockIndex+uint64(last.BlocksCount) == nr.BlockIndex &&
		uint64(last.BlocksCount)+uint64(nr.BlocksCount) <= 0xffff {
		last.BlocksCount += nr.BlocksCount
		return true
	}
	return false
}

func (fx *fileIndex) promoteToIndirect(nr BlockRange) error {
	combined := append(append([]BlockRange{}, fx.ino.Direct...), nr)
	leafAddr, err := fx.al.Allocate()
	if err != nil {
		return err
	}
	leaf := &fileLeaf{Items: combined, Next: NoAddress}
	if err := writeFileLeaf(fx.s, leafAddr, leaf); err != nil {
		return err
	}
	fx.ino.Indirect = []childNodeReference{{ChildBlockIndex: uint64(leafAddr), Key: combined[0].FileOffset}}
	fx.ino.LevelsCount = 1
	fx.ino.Direct = nil
	return nil
}

// appendToLevel appends nr into the rightmost descendant of children
// (levelsRemain==1: children are leaves; >1: children are internal nodes).
// It returns the (possibly grown) children slice and, if this level also
// overflowed, a sibling entry the caller must place in the parent.
func (fx *fileIndex) appendToLevel(children []childNodeReference, levelsRemain int, nr BlockRange) ([]childNodeReference, *childNodeReference, error) {
	last := len(children) - 1
	if levelsRemain == 1 {
		leafAddr := BlockAddress(children[last].ChildBlockIndex)
		leaf, err := readFileLeaf(fx.s, leafAddr)
		if err != nil {
			return nil, nil, err
		}
		if n := len(leaf.Items); n > 0 && tryMergeRange(&leaf.Items[n-1], nr) {
			return children, nil, writeFileLeaf(fx.s, leafAddr, leaf)
		}
		if len(leaf.Items) < fileLeafCap {
			leaf.Items = append(leaf.Items, nr)
			return children, nil, writeFileLeaf(fx.s, leafAddr, leaf)
		}
		newLeafAddr, err := fx.al.Allocate()
		if err != nil {
			return nil, nil, err
		}
		leaf.Next = newLeafAddr
		if err := writeFileLeaf(fx.s, leafAddr, leaf); err != nil {
			return nil, nil, err
		}
		newLeaf := &fileLeaf{Items: []BlockRange{nr}, Next: NoAddress}
		if err := writeFileLeaf(fx.s, newLeafAddr, newLeaf); err != nil {
			return nil, nil, err
		}
		ref := childNodeReference{ChildBlockIndex: uint64(newLeafAddr), Key: nr.FileOffset}
		if len(children) < internalNodeCap {
			return append(children, ref), nil, nil
		}
		return children, &ref, nil
	}

	childAddr := BlockAddress(children[last].ChildBlockIndex)
	sub, err := readInternalNode(fx.s, childAddr)
	if err != nil {
		return nil, nil, err
	}
	newSub, extra, err := fx.appendToLevel(sub, levelsRemain-1, nr)
	if err != nil {
		return nil, nil, err
	}
	if err := writeInternalNode(fx.s, childAddr, newSub); err != nil {
		return nil, nil, err
	}
	if extra == nil {
		return children, nil, nil
	}
	if len(children) < internalNodeCap {
		return append(children, *extra), nil, nil
	}
	newNodeAddr, err := fx.al.Allocate()
	if err != nil {
		return nil, nil, err
	}
	if err := writeInternalNode(fx.s, newNodeAddr, []childNodeReference{*extra}); err != nil {
		return nil, nil, err
	}
	ref := childNodeReference{ChildBlockIndex: uint64(newNodeAddr), Key: extra.Key}
	return children, &ref, nil
}

// allRanges walks the whole tree (or the inline array) in logical order,
// returning every range and every structural block address it visited (for
// truncateToBlocks to release).
func (fx *fileIndex) allRanges() ([]BlockRange, []BlockAddress, error) {
	if fx.ino.LevelsCount == 0 {
		return append([]BlockRange{}, fx.ino.Direct...), nil, nil
	}

	var ranges []BlockRange
	var nodes []BlockAddress
	var walk func(children []childNodeReference, levelsRemain int) error
	walk = func(children []childNodeReference, levelsRemain int) error {
		if levelsRemain == 1 {
			seen := map[BlockAddress]bool{}
			for _, c := range children {
				addr := BlockAddress(c.ChildBlockIndex)
				for addr != NoAddress && !seen[addr] {
					seen[addr] = true
					nodes = append(nodes, addr)
					leaf, err := readFileLeaf(fx.s, addr)
					if err != nil {
						return err
					}
					ranges = append(ranges, leaf.Items...)
					addr = leaf.Next
				}
			}
			return nil
		}
		for _, c := range children {
			addr := BlockAddress(c.ChildBlockIndex)
			nodes = append(nodes, addr)
			sub, err := readInternalNode(fx.s, addr)
			if err != nil {
				return err
			}
			if err := walk(sub, levelsRemain-1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(fx.ino.Indirect, int(fx.ino.LevelsCount)); err != nil {
		return nil, nil, err
	}
	return ranges, nodes, nil
}

// rebuildIndirect replaces the entire tree structure with a fresh one
// packing ranges as tightly as the leaf/internal capacities allow. It is
// used after truncate removes trailing ranges: simpler and just as
// correct as in-place tree surgery at the cost of rewriting more blocks
// than strictly necessary.
func (fx *fileIndex) rebuildIndirect(ranges []BlockRange) error {
	if len(ranges) == 0 {
		fx.ino.LevelsCount = 0
		fx.ino.Direct = nil
		fx.ino.Indirect = nil
		return nil
	}
	if len(ranges) <= fiDirect {
		fx.ino.LevelsCount = 0
		fx.ino.Direct = ranges
		fx.ino.Indirect = nil
		return nil
	}

	var children []childNodeReference
	for i := 0; i < len(ranges); {
		end := i + fileLeafCap
		if end > len(ranges) {
			end = len(ranges)
		}
		addr, err := fx.al.Allocate()
		if err != nil {
			return err
		}
		leaf := &fileLeaf{Items: ranges[i:end], Next: NoAddress}
		if err := writeFileLeaf(fx.s, addr, leaf); err != nil {
			return err
		}
		children = append(children, childNodeReference{ChildBlockIndex: uint64(addr), Key: ranges[i].FileOffset})
		i = end
	}
	// link the freshly written leaves in order
	for i := 0; i < len(children)-1; i++ {
		addr := BlockAddress(children[i].ChildBlockIndex)
		leaf, err := readFileLeaf(fx.s, addr)
		if err != nil {
			return err
		}
		leaf.Next = BlockAddress(children[i+1].ChildBlockIndex)
		if err := writeFileLeaf(fx.s, addr, leaf); err != nil {
			return err
		}
	}

	levels := 1
	for len(children) > fiIndirect {
		var parents []childNodeReference
		for i := 0; i < len(children); {
			end := i + internalNodeCap
			if end > len(children) {
				end = len(children)
			}
			addr, err := fx.al.Allocate()
			if err != nil {
				return err
			}
			if err := writeInternalNode(fx.s, addr, children[i:end]); err != nil {
				return err
			}
			parents = append(parents, childNodeReference{ChildBlockIndex: uint64(addr), Key: children[i].Key})
			i = end
		}
		children = parents
		levels++
	}

	fx.ino.LevelsCount = uint16(levels)
	fx.ino.Indirect = children
	fx.ino.Direct = nil
	return nil
}

// truncate sets the file's byte size, growing (zero-filled) or shrinking
// the block mapping as needed.
func (fx *fileIndex) truncate(size int64) error {
	target := uint64((size + blockSize - 1) / blockSize)
	switch {
	case target > fx.ino.BlocksCount:
		if err := fx.growToBlocks(target); err != nil {
			return err
		}
	case target < fx.ino.BlocksCount:
		if err := fx.truncateToBlocks(target); err != nil {
			return err
		}
	}
	if uint64(size) < fx.ino.FileSize && size%blockSize != 0 {
		addr, found, err := fx.seek(uint64(size / blockSize))
		if err != nil {
			return err
		}
		if found {
			inBlock := size % blockSize
			if _, err := fx.s.WriteAt(make([]byte, blockSize-inBlock), blockDataOffset(addr)+inBlock); err != nil {
				return err
			}
		}
	}
	fx.ino.FileSize = uint64(size)
	return nil
}

// growToBlocks extends the file's allocated block count up to target,
// zero-filling every newly allocated block.
func (fx *fileIndex) growToBlocks(target uint64) error {
	for lb := fx.ino.BlocksCount; lb < target; lb++ {
		addr, err := fx.al.AllocateZeroed()
		if err != nil {
			return err
		}
		if err := fx.appendRange(BlockRange{BlockIndex: uint64(addr), BlocksCount: 1, FileOffset: lb}); err != nil {
			return err
		}
	}
	fx.ino.BlocksCount = target
	return nil
}

// truncateToBlocks drops every range at or beyond logical block `target`,
// releasing the physical blocks (and, in indirect mode, every tree
// structure block) that are no longer referenced.
func (fx *fileIndex) truncateToBlocks(target uint64) error {
	ranges, nodes, err := fx.allRanges()
	if err != nil {
		return err
	}

	var kept []BlockRange
	for _, r := range ranges {
		switch {
		case r.FileOffset >= target:
			for b := uint64(0); b < uint64(r.BlocksCount); b++ {
				if err := fx.al.Release(BlockAddress(r.BlockIndex + b)); err != nil {
					return err
				}
			}
		case r.endOffset() > target:
			removed := r.endOffset() - target
			for b := uint64(0); b < removed; b++ {
				if err := fx.al.Release(BlockAddress(r.BlockIndex + uint64(r.BlocksCount) - removed + b)); err != nil {
					return err
				}
			}
			r.BlocksCount -= uint16(removed)
			kept = append(kept, r)
		default:
			kept = append(kept, r)
		}
	}

	for _, addr := range nodes {
		if err := fx.al.Release(addr); err != nil {
			return err
		}
	}

	if err := fx.rebuildIndirect(kept); err != nil {
		return err
	}
	fx.ino.BlocksCount = target
	return nil
}
