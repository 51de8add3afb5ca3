package f2f

import (
	"fmt"
	"testing"
)

func newTestDirectory(t *testing.T) (Storage, *allocator, *directory) {
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
		t.Fatalf("allocate root: %v", err)
	}
	nd := newDirectory(al, NoAddress)
	if err := writeDirectoryInode(s, addr, nd.ino); err != nil {
		t.Fatalf("write inode: %v", err)
	}
	dir, err := loadDirectory(s, al, addr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return s, al, dir
}

func TestDirectoryInsertAndSearch(t *testing.T) {
	_, _, dir := newTestDirectory(t)

	if err := dir.insert("foo", 10, TypeRegular); err != nil {
		t.Fatalf("insert foo: %v", err)
	}
	if err := dir.insert("bar", 20, TypeDirectory); err != nil {
		t.Fatalf("insert bar: %v", err)
	}
	if err := dir.insert("foo", 99, TypeRegular); err != ErrExists {
		t.Fatalf("expected ErrExists on duplicate insert, got %v", err)
	}

	item, found, err := dir.search("foo")
	if err != nil || !found {
		t.Fatalf("search foo: found=%v err=%v", found, err)
	}
	if item.Inode != 10 || item.fileType() != TypeRegular {
		t.Fatalf("unexpected entry for foo: %+v", item)
	}

	if _, found, err := dir.search("missing"); err != nil || found {
		t.Fatalf("search missing: found=%v err=%v", found, err)
	}
}

func TestDirectoryPromotionAndManyEntries(t *testing.T) {
	_, _, dir := newTestDirectory(t)

	const n = 2000
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file-%05d", i)
		if err := dir.insert(name, BlockAddress(i+1), TypeRegular); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}
	if dir.ino.LevelsCount == 0 {
		t.Fatalf("expected promotion to indirect representation after %d entries", n)
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file-%05d", i)
		item, found, err := dir.search(name)
		if err != nil || !found {
			t.Fatalf("search %s: found=%v err=%v", name, found, err)
		}
		if item.Inode != BlockAddress(i+1) {
			t.Fatalf("search %s: expected inode %d, got %d", name, i+1, item.Inode)
		}
	}

	entries, err := dir.allEntries()
	if err != nil {
		t.Fatalf("allEntries: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
}

func TestDirectoryHashCollisionCoexist(t *testing.T) {
	_, _, dir := newTestDirectory(t)

	var a, b string
	h := map[uint32]string{}
	for i := 0; i < 1_000_000 && b == ""; i++ {
		name := fmt.Sprintf("n%d", i)
		hash := nameHash(name)
		if prev, ok := h[hash]; ok {
			a, b = prev, name
			break
		}
		h[hash] = name
	}
	if b == "" {
		t.Skip("no FNV-1a-32 collision found in search space")
	}

	if err := dir.insert(a, 1, TypeRegular); err != nil {
		t.Fatalf("insert %s: %v", a, err)
	}
	if err := dir.insert(b, 2, TypeRegular); err != nil {
		t.Fatalf("insert %s: %v", b, err)
	}

	ia, found, err := dir.search(a)
	if err != nil || !found || ia.Inode != 1 {
		t.Fatalf("search %s: %+v found=%v err=%v", a, ia, found, err)
	}
	ib, found, err := dir.search(b)
	if err != nil || !found || ib.Inode != 2 {
		t.Fatalf("search %s: %+v found=%v err=%v", b, ib, found, err)
	}
}

func TestDirectoryRemoveThenRemoveAgain(t *testing.T) {
	_, _, dir := newTestDirectory(t)

	if err := dir.insert("a", 1, TypeRegular); err != nil {
		t.Fatalf("insert: %v", err)
	}
	removed, err := dir.remove("a")
	if err != nil || removed.Inode != 1 {
		t.Fatalf("remove a: %+v err=%v", removed, err)
	}
	if empty, err := dir.isEmpty(); err != nil || !empty {
		t.Fatalf("expected empty after remove: empty=%v err=%v", empty, err)
	}
	if _, err := dir.remove("a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}
}
