package f2f

import "testing"

func newTestAllocator(t *testing.T) *allocator {
	t.Helper()
	s := NewMemoryStorage()
	if err := s.Resize(storageDataStart); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := writeStorageHeader(s, &storageHeader{magic: storageHeaderMagic}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	return newAllocator(s)
}

func TestAllocatorRoundTrip(t *testing.T) {
	al := newTestAllocator(t)

	addr, err := al.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	ok, err := al.IsAllocated(addr)
	if err != nil || !ok {
		t.Fatalf("expected %v allocated, got ok=%v err=%v", addr, ok, err)
	}
	if err := al.Release(addr); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = al.IsAllocated(addr)
	if err != nil || ok {
		t.Fatalf("expected %v free after release, got ok=%v err=%v", addr, ok, err)
	}
}

func TestAllocatorUniqueness(t *testing.T) {
	al := newTestAllocator(t)
	seen := map[BlockAddress]bool{}
	for i := 0; i < 5000; i++ {
		addr, err := al.Allocate()
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}
		if seen[addr] {
			t.Fatalf("address %v allocated twice", addr)
		}
		seen[addr] = true
	}
}

func TestAllocatorEnumerate(t *testing.T) {
	al := newTestAllocator(t)
	var want []BlockAddress
	for i := 0; i < 100; i++ {
		addr, err := al.Allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		want = append(want, addr)
	}
	// free every other block
	for i := 0; i < len(want); i += 2 {
		if err := al.Release(want[i]); err != nil {
			t.Fatalf("release: %v", err)
		}
	}

	var got []BlockAddress
	if err := al.EnumerateAllocated(func(a BlockAddress) error {
		got = append(got, a)
		return nil
	}); err != nil {
		t.Fatalf("enumerate: %v", err)
	}

	expectCount := len(want) / 2
	if len(got) != expectCount {
		t.Fatalf("expected %d allocated blocks, got %d", expectCount, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("enumerate not ascending at %d: %v <= %v", i, got[i], got[i-1])
		}
	}
}

func TestAllocatorShrinksOnRelease(t *testing.T) {
	al := newTestAllocator(t)
	addr, err := al.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	grown, err := al.s.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if grown <= storageDataStart {
		t.Fatalf("expected storage to grow past header, got %d", grown)
	}
	if err := al.Release(addr); err != nil {
		t.Fatalf("release: %v", err)
	}
	shrunk, err := al.s.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if shrunk != storageDataStart {
		t.Fatalf("expected storage to shrink back to %d, got %d", storageDataStart, shrunk)
	}
}

func TestAllocatorAddressingReopenStable(t *testing.T) {
	s := NewMemoryStorage()
	if err := s.Resize(storageDataStart); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := writeStorageHeader(s, &storageHeader{magic: storageHeaderMagic}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	al1 := newAllocator(s)
	addr, err := al1.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	off1 := blockDataOffset(addr)

	al2 := newAllocator(s)
	ok, err := al2.IsAllocated(addr)
	if err != nil || !ok {
		t.Fatalf("reopened allocator disagrees: ok=%v err=%v", ok, err)
	}
	off2 := blockDataOffset(addr)
	if off1 != off2 {
		t.Fatalf("addressing is not deterministic: %d != %d", off1, off2)
	}
}
