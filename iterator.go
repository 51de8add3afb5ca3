package f2f

// DirectoryIterator walks the entries of one directory snapshot, taken at
// the moment the iterator was created. Any mutation of that directory made
// through the Filesystem afterwards invalidates the iterator: its next
// Next call reports end-of-iteration rather than resuming a stale view,
// matching the original's "flag set or generation changed -> becomes end"
// behavior. An entry already returned by a prior Next call remains valid
// to the caller holding it.
type DirectoryIterator struct {
	fs      *Filesystem
	dirAddr BlockAddress
	entries []dirLeafItem
	pos     int
	gen     uint64
}

// Entry describes one directory entry returned by a DirectoryIterator.
type Entry struct {
	Name  string
	Inode BlockAddress
	Type  FileType
}

func newDirectoryIterator(fs *Filesystem, dirAddr BlockAddress, entries []dirLeafItem) *DirectoryIterator {
	return &DirectoryIterator{
		fs:      fs,
		dirAddr: dirAddr,
		entries: entries,
		gen:     fs.dirGeneration(dirAddr),
	}
}

func (it *DirectoryIterator) valid() bool {
	return it.fs.dirGeneration(it.dirAddr) == it.gen
}

// Next advances to and returns the next entry, or (Entry{}, false, nil) at
// end of the snapshot — including when the directory was mutated since the
// iterator was created, which ends the iteration rather than erroring.
func (it *DirectoryIterator) Next() (Entry, bool, error) {
	if !it.valid() {
		return Entry{}, false, nil
	}
	if it.pos >= len(it.entries) {
		return Entry{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return Entry{Name: e.Name, Inode: e.Inode, Type: e.fileType()}, true, nil
}

// Close has no effect on the iterator or the filesystem: iterators hold no
// registration, since invalidation goes through the directory's generation
// counter. Next keeps working after Close.
func (it *DirectoryIterator) Close() error {
	it.fs.unregisterIterator(it)
	return nil
}
