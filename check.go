package f2f

// Check performs the full consistency walk described in spec §5/§6.2: it
// confirms every block the allocator considers occupied is reachable from
// the root, and every block reachable from the root is allocated. It never
// mutates the image. Grounded on the original's check()/FileSystem.cpp
// integrity walk, generalized here into a straightforward mark-and-sweep
// over the allocator's occupied set instead of the original's in-place
// bit-scrubbing pass.
func (fs *Filesystem) Check() error {
	occupied := map[BlockAddress]bool{}
	if err := fs.al.EnumerateAllocated(func(a BlockAddress) error {
		occupied[a] = true
		return nil
	}); err != nil {
		return err
	}

	reachable := map[BlockAddress]bool{}
	if err := fs.checkDirectory(RootAddress, reachable); err != nil {
		return err
	}

	for addr := range reachable {
		if !occupied[addr] {
			return ErrInternal
		}
	}
	for addr := range occupied {
		if !reachable[addr] {
			return ErrInternal
		}
	}
	return nil
}

// checkDirectory validates one directory's inode and every block of its
// index and entries, recording every block address it visits into seen.
func (fs *Filesystem) checkDirectory(addr BlockAddress, seen map[BlockAddress]bool) error {
	if seen[addr] {
		return ErrInternal
	}
	seen[addr] = true

	dir, err := loadDirectory(fs.storage, fs.al, addr)
	if err != nil {
		return err
	}
	for _, ref := range dir.ino.Indirect {
		if err := fs.checkDirLeafChain(BlockAddress(ref.ChildBlockIndex), seen); err != nil {
			return err
		}
	}

	entries, err := dir.allEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if len(e.Name) == 0 || len(e.Name) > maxFileNameSize {
			return ErrInternal
		}
		if e.IsDir {
			if err := fs.checkDirectory(e.Inode, seen); err != nil {
				return err
			}
		} else {
			if err := fs.checkFile(e.Inode, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (fs *Filesystem) checkDirLeafChain(addr BlockAddress, seen map[BlockAddress]bool) error {
	for addr != NoAddress {
		if seen[addr] {
			return ErrInternal
		}
		seen[addr] = true
		leaf, err := readDirLeaf(fs.storage, addr)
		if err != nil {
			return err
		}
		addr = leaf.Next
	}
	return nil
}

// checkFile validates one file's inode and every tree/data block its
// extent index reaches, recording every visited address into seen.
func (fs *Filesystem) checkFile(addr BlockAddress, seen map[BlockAddress]bool) error {
	if seen[addr] {
		return ErrInternal
	}
	seen[addr] = true

	fx, err := loadFileIndex(fs.storage, fs.al, addr)
	if err != nil {
		return err
	}
	ranges, nodeAddrs, err := fx.allRanges()
	if err != nil {
		return err
	}
	for _, a := range nodeAddrs {
		if seen[a] {
			return ErrInternal
		}
		seen[a] = true
	}

	var total uint64
	for _, r := range ranges {
		for i := uint64(0); i < uint64(r.BlocksCount); i++ {
			dataAddr := BlockAddress(r.BlockIndex + i)
			if seen[dataAddr] {
				return ErrInternal
			}
			seen[dataAddr] = true
		}
		total += uint64(r.BlocksCount)
	}
	if total != fx.ino.BlocksCount {
		return ErrInternal
	}
	return nil
}
