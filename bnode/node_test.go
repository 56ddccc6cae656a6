package bnode_test

import (
	"testing"

	"github.com/oda/bindex/bnode"
)

func newPage() []byte {
	return make([]byte, 4096)
}

func TestZeroedPageIsInvalid(t *testing.T) {
	data := newPage()
	if bnode.GetPageType(data) != bnode.PageTypeInvalid {
		t.Error("zeroed page should read as invalid")
	}
}

func TestLeafInit(t *testing.T) {
	data := newPage()
	leaf := bnode.Leaf(data)
	leaf.Init(4)

	if bnode.GetPageType(data) != bnode.PageTypeLeaf {
		t.Error("expected leaf page type")
	}
	if !bnode.IsLeaf(data) {
		t.Error("IsLeaf should be true")
	}
	if leaf.Size() != 0 {
		t.Errorf("expected size 0, got %d", leaf.Size())
	}
	if leaf.MaxSize() != 4 {
		t.Errorf("expected max size 4, got %d", leaf.MaxSize())
	}
	if leaf.MinSize() != 2 {
		t.Errorf("expected min size 2, got %d", leaf.MinSize())
	}
	if leaf.NextPageID() != 0 {
		t.Errorf("expected no next leaf, got %d", leaf.NextPageID())
	}
}

func TestLeafEntries(t *testing.T) {
	data := newPage()
	leaf := bnode.Leaf(data)
	leaf.Init(8)

	for i := 0; i < 5; i++ {
		leaf.SetAt(i, uint64(10*i), uint64(100*i))
	}
	leaf.SetSize(5)

	if leaf.Size() != 5 {
		t.Fatalf("expected size 5, got %d", leaf.Size())
	}
	for i := 0; i < 5; i++ {
		if leaf.KeyAt(i) != uint64(10*i) {
			t.Errorf("key at %d: expected %d, got %d", i, 10*i, leaf.KeyAt(i))
		}
		if leaf.ValueAt(i) != uint64(100*i) {
			t.Errorf("value at %d: expected %d, got %d", i, 100*i, leaf.ValueAt(i))
		}
	}

	leaf.SetNextPageID(42)
	if leaf.NextPageID() != 42 {
		t.Errorf("expected next 42, got %d", leaf.NextPageID())
	}

	leaf.IncSize(-1)
	if leaf.Size() != 4 {
		t.Errorf("expected size 4 after IncSize(-1), got %d", leaf.Size())
	}
}

func TestLeafMinSizeOddMax(t *testing.T) {
	data := newPage()
	leaf := bnode.Leaf(data)
	leaf.Init(5)
	// Leaf floor is max/2 rounded down.
	if leaf.MinSize() != 2 {
		t.Errorf("expected min size 2 for max 5, got %d", leaf.MinSize())
	}
}

func TestInternalInit(t *testing.T) {
	data := newPage()
	in := bnode.Internal(data)
	in.Init(4)

	if bnode.GetPageType(data) != bnode.PageTypeInternal {
		t.Error("expected internal page type")
	}
	if bnode.IsLeaf(data) {
		t.Error("IsLeaf should be false")
	}
	if in.MaxSize() != 4 {
		t.Errorf("expected max size 4, got %d", in.MaxSize())
	}
	// Internal floor is ceil(max/2).
	if in.MinSize() != 2 {
		t.Errorf("expected min size 2 for max 4, got %d", in.MinSize())
	}
}

func TestInternalMinSizeOddMax(t *testing.T) {
	data := newPage()
	in := bnode.Internal(data)
	in.Init(5)
	if in.MinSize() != 3 {
		t.Errorf("expected min size 3 for max 5, got %d", in.MinSize())
	}
}

func TestInternalSlots(t *testing.T) {
	data := newPage()
	in := bnode.Internal(data)
	in.Init(4)

	// Slot 0 carries only a child pointer.
	in.SetChildAt(0, 7)
	in.SetKeyAt(1, 50)
	in.SetChildAt(1, 8)
	in.SetKeyAt(2, 90)
	in.SetChildAt(2, 9)
	in.SetSize(3)

	if in.Size() != 3 {
		t.Fatalf("expected size 3, got %d", in.Size())
	}
	if in.ChildAt(0) != 7 || in.ChildAt(1) != 8 || in.ChildAt(2) != 9 {
		t.Error("child pointers corrupted")
	}
	if in.KeyAt(1) != 50 || in.KeyAt(2) != 90 {
		t.Error("separators corrupted")
	}
}

func TestLeafInternalShareHeader(t *testing.T) {
	// The same raw page can be reinterpreted; the type byte decides.
	data := newPage()
	bnode.Leaf(data).Init(4)
	if !bnode.IsLeaf(data) {
		t.Fatal("expected leaf")
	}
	bnode.Internal(data).Init(6)
	if bnode.IsLeaf(data) {
		t.Fatal("expected internal after re-init")
	}
	if bnode.GetMaxSize(data) != 6 {
		t.Errorf("expected max size 6, got %d", bnode.GetMaxSize(data))
	}
}

func TestHeaderPage(t *testing.T) {
	data := newPage()
	h := bnode.Header(data)
	if h.RootPageID() != 0 {
		t.Errorf("zeroed header should have root 0, got %d", h.RootPageID())
	}
	h.SetRootPageID(123)
	if h.RootPageID() != 123 {
		t.Errorf("expected root 123, got %d", h.RootPageID())
	}
}

func TestFullCapacityLeaf(t *testing.T) {
	data := newPage()
	leaf := bnode.Leaf(data)
	leaf.Init(bnode.MaxSlots)

	for i := 0; i < bnode.MaxSlots; i++ {
		leaf.SetAt(i, uint64(i), uint64(i)+1)
	}
	leaf.SetSize(bnode.MaxSlots)

	// The last slot must not run past the page.
	last := bnode.MaxSlots - 1
	if leaf.KeyAt(last) != uint64(last) || leaf.ValueAt(last) != uint64(last)+1 {
		t.Error("last slot corrupted at full capacity")
	}
}
