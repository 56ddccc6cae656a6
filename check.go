package bindex

import (
	"fmt"

	"github.com/oda/bindex/bnode"
)

// Check walks the whole tree with basic guards and verifies its structural
// invariants: ordered keys, separator/child-range inclusion, occupancy
// bounds, uniform leaf depth, and a complete sibling chain. Like the other
// debug helpers it must not run concurrently with mutations.
func (t *Tree) Check() error {
	root, err := t.GetRootPageID()
	if err != nil {
		return err
	}
	if root == InvalidPageID {
		return nil
	}

	s := &checkState{leafDepth: -1}
	if err := t.checkPage(root, 0, nil, nil, true, s); err != nil {
		return err
	}

	// The chain from the leftmost leaf must visit every leaf in order.
	cur := s.leaves[0]
	for i, want := range s.leaves {
		if cur != want {
			return fmt.Errorf("%w: leaf chain visits %d where tree order has %d", ErrCorrupted, cur, want)
		}
		guard, err := t.bpm.FetchBasic(cur)
		if err != nil {
			return err
		}
		next := bnode.Leaf(guard.Data()).NextPageID()
		guard.Drop()
		if i == len(s.leaves)-1 {
			if next != InvalidPageID {
				return fmt.Errorf("%w: last leaf %d links to %d", ErrCorrupted, cur, next)
			}
		} else {
			cur = next
		}
	}
	return nil
}

type checkState struct {
	leafDepth int
	leaves    []PageID
}

// checkPage validates the subtree under pid. Keys in the subtree must lie in
// [lower, upper); nil means unbounded on that side.
func (t *Tree) checkPage(pid PageID, depth int, lower, upper *uint64, isRoot bool, s *checkState) error {
	guard, err := t.bpm.FetchBasic(pid)
	if err != nil {
		return err
	}
	defer guard.Drop()
	data := guard.Data()

	switch bnode.GetPageType(data) {
	case bnode.PageTypeLeaf:
		leaf := bnode.Leaf(data)
		min, max := leaf.MinSize(), leaf.MaxSize()
		if isRoot {
			min = 1
		}
		if leaf.Size() < min || leaf.Size() > max {
			return fmt.Errorf("%w: leaf %d size %d outside [%d, %d]", ErrCorrupted, pid, leaf.Size(), min, max)
		}
		for i := 0; i < leaf.Size(); i++ {
			k := leaf.KeyAt(i)
			if i > 0 && t.cmp(leaf.KeyAt(i-1), k) >= 0 {
				return fmt.Errorf("%w: leaf %d keys not strictly increasing at slot %d", ErrCorrupted, pid, i)
			}
			if lower != nil && t.cmp(k, *lower) < 0 {
				return fmt.Errorf("%w: leaf %d key %d below subtree bound", ErrCorrupted, pid, k)
			}
			if upper != nil && t.cmp(k, *upper) >= 0 {
				return fmt.Errorf("%w: leaf %d key %d above subtree bound", ErrCorrupted, pid, k)
			}
		}
		if s.leafDepth == -1 {
			s.leafDepth = depth
		} else if s.leafDepth != depth {
			return fmt.Errorf("%w: leaf %d at depth %d, expected %d", ErrCorrupted, pid, depth, s.leafDepth)
		}
		s.leaves = append(s.leaves, pid)
		return nil

	case bnode.PageTypeInternal:
		in := bnode.Internal(data)
		min, max := in.MinSize(), in.MaxSize()
		if isRoot {
			min = 2
		}
		if in.Size() < min || in.Size() > max {
			return fmt.Errorf("%w: internal %d size %d outside [%d, %d]", ErrCorrupted, pid, in.Size(), min, max)
		}
		for i := 2; i < in.Size(); i++ {
			if t.cmp(in.KeyAt(i-1), in.KeyAt(i)) >= 0 {
				return fmt.Errorf("%w: internal %d separators not strictly increasing at slot %d", ErrCorrupted, pid, i)
			}
		}
		// Copy separators out before recursing: the guard's frame may be
		// evicted while children are checked.
		seps := make([]uint64, in.Size())
		children := make([]PageID, in.Size())
		for i := 0; i < in.Size(); i++ {
			seps[i] = in.KeyAt(i)
			children[i] = in.ChildAt(i)
		}
		size := in.Size()
		guard.Drop()

		for i := 0; i < size; i++ {
			childLower, childUpper := lower, upper
			if i > 0 {
				childLower = &seps[i]
			}
			if i+1 < size {
				childUpper = &seps[i+1]
			}
			if err := t.checkPage(children[i], depth+1, childLower, childUpper, false, s); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: page %d has invalid page type", ErrCorrupted, pid)
	}
}
