package f2f

import (
	"bytes"
	"testing"
)

// TestScenarioS1EmptyRoundTrip mirrors spec.md §8 S1: format, verify the
// empty root, close, reopen without reformatting, verify again.
func TestScenarioS1EmptyRoundTrip(t *testing.T) {
	st := NewMemoryStorage()
	fsys, err := Format(st)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if ftype, err := fsys.Stat(""); err != nil || ftype != TypeDirectory {
		t.Fatalf("expected root directory, got %v err=%v", ftype, err)
	}
	it, err := fsys.ReadDir("")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if _, ok, err := it.Next(); ok || err != nil {
		t.Fatalf("expected empty root, got ok=%v err=%v", ok, err)
	}
	if err := fsys.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	size, err := st.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != storageHeaderSize {
		t.Fatalf("expected storage to be exactly the %d-byte header, got %d", storageHeaderSize, size)
	}

	reopened, err := Open(st)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ftype, err := reopened.Stat(""); err != nil || ftype != TypeDirectory {
		t.Fatalf("expected root directory after reopen, got %v err=%v", ftype, err)
	}
}

// TestScenarioS2BasicWriteRead mirrors spec.md §8 S2.
func TestScenarioS2BasicWriteRead(t *testing.T) {
	fsys := newTestFilesystem(t)
	if err := fsys.Mkdir("dir1"); err != nil {
		t.Fatalf("mkdir dir1: %v", err)
	}
	if err := fsys.Mkdir("dir2"); err != nil {
		t.Fatalf("mkdir dir2: %v", err)
	}

	w, err := fsys.Create("dir1/123.bin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := []byte("123454321")
	n, err := w.Write(payload)
	if err != nil || n != len(payload) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := fsys.Open("/.././dir2/./../dir1/123.bin", ReadOnly)
	if err != nil {
		t.Fatalf("open via dotted path: %v", err)
	}
	defer r.Close()
	buf := make([]byte, 9)
	n, err = r.ReadAt(buf, 0)
	if err != nil || n != 9 {
		t.Fatalf("readat: n=%d err=%v", n, err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("expected %q, got %q", payload, buf)
	}
}

// TestScenarioS3DeleteWhileOpen mirrors spec.md §8 S3.
func TestScenarioS3DeleteWhileOpen(t *testing.T) {
	fsys := newTestFilesystem(t)
	if err := fsys.Mkdir("dir1"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	w, err := fsys.Create("dir1/123.bin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := []byte("123454321")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stillOpen, err := fsys.Open("dir1/123.bin", ReadOnly)
	if err != nil {
		t.Fatalf("open for keep-alive: %v", err)
	}

	if err := fsys.Remove("dir1///123.bin"); err != nil {
		t.Fatalf("remove while open: %v", err)
	}

	if _, err := fsys.Open("dir1/123.bin", ReadOnly); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound opening a freshly-unlinked name, got %v", err)
	}

	buf := make([]byte, 9)
	n, err := stillOpen.ReadAt(buf, 0)
	if err != nil || n != 9 || !bytes.Equal(buf, payload) {
		t.Fatalf("expected the still-open handle to keep reading %q, got %q n=%d err=%v", payload, buf, n, err)
	}

	if err := stillOpen.Close(); err != nil {
		t.Fatalf("close prior handle: %v", err)
	}
	if _, err := fsys.Stat("dir1/123.bin"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after the last handle closes, got %v", err)
	}
}

// TestScenarioS4IteratorSurvivesForeignMutation mirrors spec.md §8 S4: an
// iterator's already-yielded entry stays valid, but the very next advance
// after a foreign mutation reports end.
func TestScenarioS4IteratorSurvivesForeignMutation(t *testing.T) {
	fsys := newTestFilesystem(t)
	for _, name := range []string{"dir1", "dir2", "dir3", "dir4"} {
		if err := fsys.Mkdir(name); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
	}

	it, err := fsys.ReadDir("")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	first, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("expected a first entry: ok=%v err=%v", ok, err)
	}
	if first.Name == "" {
		t.Fatalf("expected a non-empty name")
	}

	if err := fsys.Mkdir("dir5"); err != nil {
		t.Fatalf("foreign mutation: %v", err)
	}

	if _, ok, err := it.Next(); ok || err != nil {
		t.Fatalf("expected the iterator to end after a foreign mutation, got ok=%v err=%v", ok, err)
	}
}

// TestScenarioS4VariantRemoveIteratedDirectory covers spec.md §8 S4 variant
// (a): removing the directory being iterated invalidates its iterator.
func TestScenarioS4VariantRemoveIteratedDirectory(t *testing.T) {
	fsys := newTestFilesystem(t)
	if err := fsys.Mkdir("root"); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}
	for _, name := range []string{"dir1", "dir2", "dir3", "dir4"} {
		if err := fsys.Mkdir("root/" + name); err != nil {
			t.Fatalf("mkdir root/%s: %v", name, err)
		}
	}

	it, err := fsys.ReadDir("root")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if _, ok, err := it.Next(); err != nil || !ok {
		t.Fatalf("expected a first entry: ok=%v err=%v", ok, err)
	}

	if err := fsys.Remove("root"); err != nil {
		t.Fatalf("remove root: %v", err)
	}

	if _, ok, err := it.Next(); ok || err != nil {
		t.Fatalf("expected the iterator to end after its directory was removed, got ok=%v err=%v", ok, err)
	}
}

// TestScenarioS4VariantRemoveEntryWhileIterating covers spec.md §8 S4
// variant (c): removing one of the iterated directory's children also
// invalidates the iterator, the same as the documented Mkdir case.
func TestScenarioS4VariantRemoveEntryWhileIterating(t *testing.T) {
	fsys := newTestFilesystem(t)
	if err := fsys.Mkdir("root"); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}
	for _, name := range []string{"dir1", "dir2", "dir3", "dir4"} {
		if err := fsys.Mkdir("root/" + name); err != nil {
			t.Fatalf("mkdir root/%s: %v", name, err)
		}
	}

	it, err := fsys.ReadDir("root")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if _, ok, err := it.Next(); err != nil || !ok {
		t.Fatalf("expected a first entry: ok=%v err=%v", ok, err)
	}

	if err := fsys.Remove("root/dir1"); err != nil {
		t.Fatalf("remove root/dir1: %v", err)
	}

	if _, ok, err := it.Next(); ok || err != nil {
		t.Fatalf("expected the iterator to end after a sibling removal, got ok=%v err=%v", ok, err)
	}
}

// TestScenarioS5HashCollisionCoexistence mirrors spec.md §8 S5 using the
// exact names from the walkthrough, which are a documented FNV-1a-32
// collision pair.
func TestScenarioS5HashCollisionCoexistence(t *testing.T) {
	if nameHash("costarring") != nameHash("liquid") {
		t.Skip("costarring/liquid are not a collision for this hash variant")
	}

	_, _, dir := newTestDirectory(t)
	if err := dir.insert("costarring", 10, TypeRegular); err != nil {
		t.Fatalf("insert costarring: %v", err)
	}
	if err := dir.insert("liquid", 11, TypeRegular); err != nil {
		t.Fatalf("insert liquid: %v", err)
	}

	item, found, err := dir.search("costarring")
	if err != nil || !found || item.Inode != 10 {
		t.Fatalf("search costarring: %+v found=%v err=%v", item, found, err)
	}
	item, found, err = dir.search("liquid")
	if err != nil || !found || item.Inode != 11 {
		t.Fatalf("search liquid: %+v found=%v err=%v", item, found, err)
	}

	entries, err := dir.allEntries()
	if err != nil {
		t.Fatalf("allEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly 2 entries, got %d", len(entries))
	}
}

// TestScenarioS6BitmapAllocatorStress mirrors spec.md §8 S6.
func TestScenarioS6BitmapAllocatorStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping allocator stress test in -short mode")
	}

	s := NewMemoryStorage()
	if err := s.Resize(storageDataStart); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := writeStorageHeader(s, &storageHeader{magic: storageHeaderMagic}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	al := newAllocator(s)
	postFormatSize, err := s.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}

	const total = 30000
	seen := make([]BlockAddress, 0, total)
	seenSet := map[BlockAddress]bool{}
	for i := 0; i < total; i++ {
		addr, err := al.Allocate()
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}
		if seenSet[addr] {
			t.Fatalf("duplicate allocation of %v at step %d", addr, i)
		}
		seenSet[addr] = true
		seen = append(seen, addr)

		if (i+1)%10000 == 0 {
			var enumerated []BlockAddress
			if err := al.EnumerateAllocated(func(a BlockAddress) error {
				enumerated = append(enumerated, a)
				return nil
			}); err != nil {
				t.Fatalf("enumerate at step %d: %v", i, err)
			}
			if len(enumerated) != i+1 {
				t.Fatalf("step %d: expected %d allocated, got %d", i, i+1, len(enumerated))
			}
			if err := al.Check(); err != nil {
				t.Fatalf("check at step %d: %v", i, err)
			}
		}
	}

	for _, addr := range seen {
		if err := al.Release(addr); err != nil {
			t.Fatalf("release %v: %v", addr, err)
		}
	}

	finalSize, err := s.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if finalSize != postFormatSize {
		t.Fatalf("expected storage to shrink back to %d, got %d", postFormatSize, finalSize)
	}
}
