package bindex

import (
	"github.com/oda/bindex/bnode"
)

// Iterator walks the leaf chain in ascending key order. It records only a
// (page id, slot) position; each access takes a short read latch on the
// current leaf and releases it before the call returns, so an iterator never
// blocks writers between steps.
type Iterator struct {
	tree *Tree
	pid  PageID
	slot int
}

// End returns the past-the-end sentinel iterator.
func (t *Tree) End() *Iterator {
	return &Iterator{tree: t, pid: InvalidPageID, slot: -1}
}

// IsEnd reports whether the iterator is past the last entry.
func (it *Iterator) IsEnd() bool {
	return it.pid == InvalidPageID
}

// Begin positions an iterator on the smallest key, or at End for an empty
// tree.
func (t *Tree) Begin() (*Iterator, error) {
	headerGuard, err := t.bpm.FetchRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := bnode.Header(headerGuard.Data()).RootPageID()
	if root == InvalidPageID {
		headerGuard.Drop()
		return t.End(), nil
	}

	guard, err := t.bpm.FetchRead(root)
	headerGuard.Drop()
	if err != nil {
		return nil, err
	}

	// Always take child 0 down to the leftmost leaf.
	for !bnode.IsLeaf(guard.Data()) {
		child := bnode.Internal(guard.Data()).ChildAt(0)
		childGuard, err := t.bpm.FetchRead(child)
		if err != nil {
			guard.Drop()
			return nil, err
		}
		guard.Drop()
		guard = childGuard
	}

	pid := guard.PageID()
	guard.Drop()
	return &Iterator{tree: t, pid: pid, slot: 0}, nil
}

// BeginAt positions an iterator on the given key. If the key is not present
// the result is End; the seek requires an exact match.
func (t *Tree) BeginAt(key uint64) (*Iterator, error) {
	headerGuard, err := t.bpm.FetchRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := bnode.Header(headerGuard.Data()).RootPageID()
	if root == InvalidPageID {
		headerGuard.Drop()
		return t.End(), nil
	}

	guard, err := t.bpm.FetchRead(root)
	headerGuard.Drop()
	if err != nil {
		return nil, err
	}

	for !bnode.IsLeaf(guard.Data()) {
		in := bnode.Internal(guard.Data())
		child := in.ChildAt(t.binaryFindInternal(in, key))
		childGuard, err := t.bpm.FetchRead(child)
		if err != nil {
			guard.Drop()
			return nil, err
		}
		guard.Drop()
		guard = childGuard
	}

	leaf := bnode.Leaf(guard.Data())
	slot := t.binaryFindLeaf(leaf, key)
	if slot < 0 || slot >= leaf.Size() || t.cmp(leaf.KeyAt(slot), key) != 0 {
		guard.Drop()
		return t.End(), nil
	}

	pid := guard.PageID()
	guard.Drop()
	return &Iterator{tree: t, pid: pid, slot: slot}, nil
}

// Entry returns the key and record id at the current position.
// Calling Entry on the end iterator returns (0, 0, false, nil).
func (it *Iterator) Entry() (uint64, RID, bool, error) {
	if it.IsEnd() {
		return 0, 0, false, nil
	}
	guard, err := it.tree.bpm.FetchRead(it.pid)
	if err != nil {
		return 0, 0, false, err
	}
	leaf := bnode.Leaf(guard.Data())
	if it.slot >= leaf.Size() {
		// A concurrent merge shrank the leaf under our recorded position.
		guard.Drop()
		return 0, 0, false, nil
	}
	key := leaf.KeyAt(it.slot)
	value := RID(leaf.ValueAt(it.slot))
	guard.Drop()
	return key, value, true, nil
}

// Next advances to the following entry, crossing to the next leaf through
// the sibling link when the current one is exhausted. Advancing the end
// iterator is a no-op.
func (it *Iterator) Next() error {
	if it.IsEnd() {
		return nil
	}
	guard, err := it.tree.bpm.FetchRead(it.pid)
	if err != nil {
		return err
	}
	leaf := bnode.Leaf(guard.Data())

	it.slot++
	if it.slot < leaf.Size() {
		guard.Drop()
		return nil
	}

	next := leaf.NextPageID()
	guard.Drop()
	if next == InvalidPageID {
		it.pid = InvalidPageID
		it.slot = -1
		return nil
	}
	it.pid = next
	it.slot = 0
	return nil
}
