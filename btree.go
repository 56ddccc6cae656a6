// Package bindex implements a disk-backed B+tree index mapping uint64 keys
// to record ids. Every node is one fixed-size page fetched through a buffer
// pool; the current root is tracked in a dedicated header page so that the
// index survives process restarts of the surrounding engine.
//
// Lookups descend with shared latches, releasing each parent only after the
// child is latched. Mutations take exclusive latches over the whole descent
// path (header included) and hold them in a descent context until the
// structural change (split, borrow, merge, root replacement) is complete.
package bindex

import (
	"errors"
	"fmt"

	"github.com/oda/bindex/bbuf"
	"github.com/oda/bindex/bnode"
)

// PageID is the identifier for a page.
type PageID = bbuf.PageID

// InvalidPageID is the reserved "no page" sentinel.
const InvalidPageID = bbuf.InvalidPageID

// ErrCorrupted reports a structural invariant violation found mid-operation,
// such as a descent-path page missing from its ancestor's child table.
var ErrCorrupted = errors.New("bindex: tree structure corrupted")

// RID is a record identifier: 48 bits of page id and 16 bits of slot,
// packed into one fixed-size value.
type RID uint64

// NewRID packs a page id and slot number into a record id.
func NewRID(pid PageID, slot uint16) RID {
	return RID(pid<<16 | PageID(slot))
}

// DataPageID returns the data page the record lives on.
func (r RID) DataPageID() PageID {
	return PageID(r) >> 16
}

// SlotNum returns the record's slot within its data page.
func (r RID) SlotNum() uint16 {
	return uint16(r)
}

// Comparator supplies the total order on keys.
// It returns a negative number if a < b, 0 if a == b, positive if a > b.
type Comparator func(a, b uint64) int

// CompareUint64 orders keys as plain unsigned integers.
func CompareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Tree is a B+tree index over a buffer pool.
// All methods are safe for concurrent use except the debug helpers (Print,
// Fprint, DrawString, DrawFile, Check), which must not run concurrently with
// mutations.
type Tree struct {
	name            string
	headerPageID    PageID
	bpm             *bbuf.BufferPool
	cmp             Comparator
	leafMaxSize     int
	internalMaxSize int
}

// New creates an index bound to the given header page and writes an empty
// root into it. The header page must already be allocated by the caller.
func New(name string, headerPageID PageID, bpm *bbuf.BufferPool, cmp Comparator, leafMaxSize, internalMaxSize int) (*Tree, error) {
	if headerPageID == InvalidPageID {
		return nil, fmt.Errorf("invalid header page id")
	}
	if cmp == nil {
		return nil, fmt.Errorf("comparator is required")
	}
	if leafMaxSize < 2 || leafMaxSize > bnode.MaxSlots {
		return nil, fmt.Errorf("leaf max size %d out of range [2, %d]", leafMaxSize, bnode.MaxSlots)
	}
	if internalMaxSize < 3 || internalMaxSize > bnode.MaxSlots {
		return nil, fmt.Errorf("internal max size %d out of range [3, %d]", internalMaxSize, bnode.MaxSlots)
	}

	t := &Tree{
		name:            name,
		headerPageID:    headerPageID,
		bpm:             bpm,
		cmp:             cmp,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	guard, err := bpm.FetchWrite(headerPageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header page: %w", err)
	}
	bnode.Header(guard.Data()).SetRootPageID(InvalidPageID)
	guard.Drop()

	return t, nil
}

// Name returns the index name given at construction.
func (t *Tree) Name() string {
	return t.name
}

// IsEmpty reports whether the tree holds no keys.
func (t *Tree) IsEmpty() (bool, error) {
	root, err := t.GetRootPageID()
	if err != nil {
		return false, err
	}
	return root == InvalidPageID, nil
}

// GetRootPageID returns the current root page id, or InvalidPageID for an
// empty tree.
func (t *Tree) GetRootPageID() (PageID, error) {
	guard, err := t.bpm.FetchRead(t.headerPageID)
	if err != nil {
		return InvalidPageID, err
	}
	root := bnode.Header(guard.Data()).RootPageID()
	guard.Drop()
	return root, nil
}

// context collects the exclusive guards taken on the descent path of a
// structural mutation. Guards are released in reverse acquisition order by
// dropAll (deepest page first, header last); since each guard's Drop is
// idempotent, dropAll may run after individual guards were already released.
type context struct {
	headerGuard *bbuf.WriteGuard
	rootPageID  PageID
	writeSet    []*bbuf.WriteGuard
}

func (c *context) dropAll() {
	for i := len(c.writeSet) - 1; i >= 0; i-- {
		c.writeSet[i].Drop()
	}
	c.writeSet = nil
	if c.headerGuard != nil {
		c.headerGuard.Drop()
		c.headerGuard = nil
	}
}

// binaryFindLeaf locates key in a leaf. It returns the index of an exact
// match, or the index of the last key less than key, or -1 if key precedes
// every stored key. Note the fall-through: when key exceeds all stored keys
// the result is size-1, and callers must check equality themselves.
func (t *Tree) binaryFindLeaf(leaf *bnode.LeafPage, key uint64) int {
	low, high := 0, leaf.Size()-1
	for low <= high {
		mid := low + (high-low)/2
		c := t.cmp(leaf.KeyAt(mid), key)
		if c == 0 {
			return mid
		}
		if c < 0 {
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return high
}

// binaryFindInternal returns the child slot to descend into: the largest
// slot i >= 1 with key_at(i) <= key, or 0 when every separator exceeds key.
func (t *Tree) binaryFindInternal(in *bnode.InternalPage, key uint64) int {
	l, r := 1, in.Size()-1
	for l < r {
		mid := (l + r + 1) / 2
		if t.cmp(in.KeyAt(mid), key) <= 0 {
			l = mid
		} else {
			r = mid - 1
		}
	}
	if r < 1 || t.cmp(in.KeyAt(r), key) > 0 {
		return 0
	}
	return r
}

// GetValue looks up the record id stored under key.
// The descent latch-couples downward: each child is read-latched before the
// parent's latch is released.
func (t *Tree) GetValue(key uint64) (RID, bool, error) {
	headerGuard, err := t.bpm.FetchRead(t.headerPageID)
	if err != nil {
		return 0, false, err
	}
	root := bnode.Header(headerGuard.Data()).RootPageID()
	headerGuard.Drop()

	if root == InvalidPageID {
		return 0, false, nil
	}

	guard, err := t.bpm.FetchRead(root)
	if err != nil {
		return 0, false, err
	}
	for {
		data := guard.Data()
		if bnode.IsLeaf(data) {
			leaf := bnode.Leaf(data)
			for i := 0; i < leaf.Size(); i++ {
				if t.cmp(leaf.KeyAt(i), key) == 0 {
					v := leaf.ValueAt(i)
					guard.Drop()
					return RID(v), true, nil
				}
			}
			guard.Drop()
			return 0, false, nil
		}

		in := bnode.Internal(data)
		child := in.ChildAt(t.binaryFindInternal(in, key))
		childGuard, err := t.bpm.FetchRead(child)
		if err != nil {
			guard.Drop()
			return 0, false, err
		}
		guard.Drop()
		guard = childGuard
	}
}

// Insert adds the key-value pair. It returns false, without modifying the
// tree, if the key is already present.
func (t *Tree) Insert(key uint64, value RID) (bool, error) {
	ctx := &context{}
	defer ctx.dropAll()

	headerGuard, err := t.bpm.FetchWrite(t.headerPageID)
	if err != nil {
		return false, err
	}
	ctx.headerGuard = headerGuard
	header := bnode.Header(headerGuard.Data())

	// Empty tree: the first leaf becomes the root.
	if header.RootPageID() == InvalidPageID {
		pid, basic, err := t.bpm.NewPage()
		if err != nil {
			return false, err
		}
		guard := basic.UpgradeWrite()
		leaf := bnode.Leaf(guard.Data())
		leaf.Init(t.leafMaxSize)
		leaf.SetSize(1)
		leaf.SetAt(0, key, uint64(value))
		guard.Drop()

		header.SetRootPageID(pid)
		return true, nil
	}

	// Pessimistic descent: keep every ancestor write-latched so a split can
	// reach upward.
	ctx.rootPageID = header.RootPageID()
	cur := ctx.rootPageID
	for {
		guard, err := t.bpm.FetchWrite(cur)
		if err != nil {
			return false, err
		}
		ctx.writeSet = append(ctx.writeSet, guard)
		if bnode.IsLeaf(guard.Data()) {
			break
		}
		in := bnode.Internal(guard.Data())
		cur = in.ChildAt(t.binaryFindInternal(in, key))
	}

	leafGuard := ctx.writeSet[len(ctx.writeSet)-1]
	leaf := bnode.Leaf(leafGuard.Data())

	idx := t.binaryFindLeaf(leaf, key)
	if idx >= 0 && t.cmp(leaf.KeyAt(idx), key) == 0 {
		return false, nil // duplicate key
	}
	idx++

	if leaf.Size() < t.leafMaxSize {
		leaf.IncSize(1)
		for i := leaf.Size() - 1; i > idx; i-- {
			leaf.SetAt(i, leaf.KeyAt(i-1), leaf.ValueAt(i-1))
		}
		leaf.SetAt(idx, key, uint64(value))
		return true, nil
	}

	// Split: the upper half moves to a fresh right sibling.
	newLeafID, basic, err := t.bpm.NewPage()
	if err != nil {
		return false, err
	}
	newGuard := basic.UpgradeWrite()
	newLeaf := bnode.Leaf(newGuard.Data())
	newLeaf.Init(t.leafMaxSize)

	m := leaf.MinSize()
	newLeaf.SetSize(leaf.Size() - m)
	for i := 0; i < newLeaf.Size(); i++ {
		newLeaf.SetAt(i, leaf.KeyAt(i+m), leaf.ValueAt(i+m))
	}
	leaf.SetSize(m)

	if idx < m {
		leaf.IncSize(1)
		for i := leaf.Size() - 1; i > idx; i-- {
			leaf.SetAt(i, leaf.KeyAt(i-1), leaf.ValueAt(i-1))
		}
		leaf.SetAt(idx, key, uint64(value))
	} else {
		idx -= m
		newLeaf.IncSize(1)
		for i := newLeaf.Size() - 1; i > idx; i-- {
			newLeaf.SetAt(i, newLeaf.KeyAt(i-1), newLeaf.ValueAt(i-1))
		}
		newLeaf.SetAt(idx, key, uint64(value))
	}

	newLeaf.SetNextPageID(leaf.NextPageID())
	leaf.SetNextPageID(newLeafID)

	pushUpKey := newLeaf.KeyAt(0)
	newGuard.Drop()

	return true, t.insertIntoParent(ctx, pushUpKey, newLeafID, len(ctx.writeSet)-2)
}

// insertIntoParent inserts the promotion key and its right child into the
// ancestor at the given descent-context depth, splitting upward as needed.
// Depth -1 means the root itself split.
func (t *Tree) insertIntoParent(ctx *context, key uint64, rightID PageID, index int) error {
	if index < 0 {
		// Root split: a new internal root adopts the two halves.
		newRootID, basic, err := t.bpm.NewPage()
		if err != nil {
			return err
		}
		guard := basic.UpgradeWrite()
		root := bnode.Internal(guard.Data())
		root.Init(t.internalMaxSize)
		root.SetSize(2)
		root.SetChildAt(0, ctx.writeSet[0].PageID())
		root.SetKeyAt(1, key)
		root.SetChildAt(1, rightID)
		guard.Drop()

		bnode.Header(ctx.headerGuard.Data()).SetRootPageID(newRootID)
		return nil
	}

	parent := bnode.Internal(ctx.writeSet[index].Data())
	pos := t.binaryFindInternal(parent, key) + 1

	if parent.Size() < t.internalMaxSize {
		parent.IncSize(1)
		for i := parent.Size() - 1; i > pos; i-- {
			parent.SetKeyAt(i, parent.KeyAt(i-1))
			parent.SetChildAt(i, parent.ChildAt(i-1))
		}
		parent.SetKeyAt(pos, key)
		parent.SetChildAt(pos, rightID)
		return nil
	}

	midKey, newInternalID, err := t.splitInternal(parent, key, rightID)
	if err != nil {
		return err
	}
	return t.insertIntoParent(ctx, midKey, newInternalID, index-1)
}

// splitInternal splits a full internal page around the incoming entry.
// The middle separator is promoted, not retained; it is returned together
// with the new right page's id.
func (t *Tree) splitInternal(parent *bnode.InternalPage, key uint64, rightID PageID) (uint64, PageID, error) {
	oldSize := parent.Size()
	allKeys := make([]uint64, 0, oldSize)
	allChildren := make([]PageID, 0, oldSize+1)
	for i := 0; i < oldSize; i++ {
		allChildren = append(allChildren, parent.ChildAt(i))
		if i != 0 {
			allKeys = append(allKeys, parent.KeyAt(i))
		}
	}

	insertPos := t.binaryFindInternal(parent, key) + 1
	allKeys = insertAt(allKeys, insertPos-1, key)
	allChildren = insertAt(allChildren, insertPos, rightID)

	newID, basic, err := t.bpm.NewPage()
	if err != nil {
		return 0, InvalidPageID, err
	}
	guard := basic.UpgradeWrite()
	newPage := bnode.Internal(guard.Data())
	newPage.Init(t.internalMaxSize)

	total := len(allChildren)
	mid := total / 2
	midKey := allKeys[mid-1]

	parent.SetSize(mid)
	for i := 0; i < mid; i++ {
		parent.SetChildAt(i, allChildren[i])
	}
	for i := 1; i < mid; i++ {
		parent.SetKeyAt(i, allKeys[i-1])
	}

	newPage.SetSize(total - mid)
	for i := 0; i < newPage.Size(); i++ {
		newPage.SetChildAt(i, allChildren[i+mid])
	}
	for i := 1; i < newPage.Size(); i++ {
		newPage.SetKeyAt(i, allKeys[i+mid-1])
	}
	guard.Drop()

	return midKey, newID, nil
}

func insertAt[T any](s []T, i int, v T) []T {
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// Remove deletes the key if present. Removing an absent key is a no-op.
func (t *Tree) Remove(key uint64) error {
	ctx := &context{}
	defer ctx.dropAll()

	headerGuard, err := t.bpm.FetchWrite(t.headerPageID)
	if err != nil {
		return err
	}
	ctx.headerGuard = headerGuard
	header := bnode.Header(headerGuard.Data())

	if header.RootPageID() == InvalidPageID {
		return nil
	}

	// Descend, recording the child slot taken at each internal page so the
	// leaf's position among its siblings is known.
	ctx.rootPageID = header.RootPageID()
	cur := ctx.rootPageID
	var slotTaken []int
	for {
		guard, err := t.bpm.FetchWrite(cur)
		if err != nil {
			return err
		}
		ctx.writeSet = append(ctx.writeSet, guard)
		if bnode.IsLeaf(guard.Data()) {
			break
		}
		in := bnode.Internal(guard.Data())
		slot := t.binaryFindInternal(in, key)
		slotTaken = append(slotTaken, slot)
		cur = in.ChildAt(slot)
	}

	leafGuard := ctx.writeSet[len(ctx.writeSet)-1]
	leaf := bnode.Leaf(leafGuard.Data())

	idx := t.binaryFindLeaf(leaf, key)
	if idx < 0 || idx >= leaf.Size() || t.cmp(leaf.KeyAt(idx), key) != 0 {
		return nil // key not present
	}

	for i := idx; i < leaf.Size()-1; i++ {
		leaf.SetAt(i, leaf.KeyAt(i+1), leaf.ValueAt(i+1))
	}
	leaf.IncSize(-1)

	if leaf.Size() >= leaf.MinSize() {
		return nil
	}

	if ctx.rootPageID == leafGuard.PageID() {
		// A root leaf may shrink to a single entry; an emptied root leaves
		// the tree empty and its page is freed.
		if leaf.Size() == 0 {
			header.SetRootPageID(InvalidPageID)
			return t.bpm.DeletePage(leafGuard.PageID())
		}
		return nil
	}

	parentIndex := len(ctx.writeSet) - 2
	parent := bnode.Internal(ctx.writeSet[parentIndex].Data())
	posInParent := slotTaken[len(slotTaken)-1]

	// Rebalance against a same-parent sibling, right first. The right
	// sibling under the same parent is exactly the leaf's chain successor.
	if posInParent+1 < parent.Size() {
		rightID := parent.ChildAt(posInParent + 1)
		rightGuard, err := t.bpm.FetchWrite(rightID)
		if err != nil {
			return err
		}
		right := bnode.Leaf(rightGuard.Data())

		if leaf.Size()+right.Size() <= t.leafMaxSize {
			// Merge the right sibling into this leaf.
			base := leaf.Size()
			leaf.SetSize(base + right.Size())
			for i := 0; i < right.Size(); i++ {
				leaf.SetAt(base+i, right.KeyAt(i), right.ValueAt(i))
			}
			leaf.SetNextPageID(right.NextPageID())
			derr := t.bpm.DeletePage(rightID)
			rightGuard.Drop()
			if derr != nil {
				return derr
			}
			return t.removeFromParent(ctx, posInParent+1, parentIndex)
		}

		// Borrow the right sibling's first entry.
		leaf.IncSize(1)
		leaf.SetAt(leaf.Size()-1, right.KeyAt(0), right.ValueAt(0))
		for i := 0; i < right.Size()-1; i++ {
			right.SetAt(i, right.KeyAt(i+1), right.ValueAt(i+1))
		}
		right.IncSize(-1)
		parent.SetKeyAt(posInParent+1, right.KeyAt(0))
		rightGuard.Drop()
		return nil
	}

	if posInParent > 0 {
		leftID := parent.ChildAt(posInParent - 1)
		leftGuard, err := t.bpm.FetchWrite(leftID)
		if err != nil {
			return err
		}
		left := bnode.Leaf(leftGuard.Data())

		if leaf.Size()+left.Size() <= t.leafMaxSize {
			// Merge this leaf into the left sibling.
			base := left.Size()
			left.SetSize(base + leaf.Size())
			for i := 0; i < leaf.Size(); i++ {
				left.SetAt(base+i, leaf.KeyAt(i), leaf.ValueAt(i))
			}
			left.SetNextPageID(leaf.NextPageID())
			derr := t.bpm.DeletePage(leafGuard.PageID())
			leftGuard.Drop()
			if derr != nil {
				return derr
			}
			return t.removeFromParent(ctx, posInParent, parentIndex)
		}

		// Borrow the left sibling's last entry.
		leaf.IncSize(1)
		for i := leaf.Size() - 1; i > 0; i-- {
			leaf.SetAt(i, leaf.KeyAt(i-1), leaf.ValueAt(i-1))
		}
		leaf.SetAt(0, left.KeyAt(left.Size()-1), left.ValueAt(left.Size()-1))
		left.IncSize(-1)
		parent.SetKeyAt(posInParent, leaf.KeyAt(0))
		leftGuard.Drop()
		return nil
	}

	return nil
}

// removeFromParent removes the (separator, child) pair at childIndex of the
// internal page at the given descent-context depth, then repairs any
// resulting underflow: borrow from the right sibling, then the left, then
// merge with the right, then into the left. An underflowing root with a
// single child collapses onto that child.
func (t *Tree) removeFromParent(ctx *context, childIndex, parentIndex int) error {
	parentGuard := ctx.writeSet[parentIndex]
	parent := bnode.Internal(parentGuard.Data())

	for i := childIndex; i < parent.Size()-1; i++ {
		parent.SetKeyAt(i, parent.KeyAt(i+1))
		parent.SetChildAt(i, parent.ChildAt(i+1))
	}
	parent.IncSize(-1)

	if parent.Size() >= parent.MinSize() {
		return nil
	}

	if ctx.rootPageID == parentGuard.PageID() {
		if parent.Size() == 1 {
			// Height shrinks: the sole child becomes the root.
			bnode.Header(ctx.headerGuard.Data()).SetRootPageID(parent.ChildAt(0))
			return t.bpm.DeletePage(parentGuard.PageID())
		}
		return nil
	}

	grandIndex := parentIndex - 1
	grand := bnode.Internal(ctx.writeSet[grandIndex].Data())

	posInGrand := -1
	for i := 0; i < grand.Size(); i++ {
		if grand.ChildAt(i) == parentGuard.PageID() {
			posInGrand = i
			break
		}
	}
	if posInGrand == -1 {
		return fmt.Errorf("%w: page %d missing from its parent's child table", ErrCorrupted, parentGuard.PageID())
	}

	// Borrow from the right sibling.
	if posInGrand+1 < grand.Size() {
		rightID := grand.ChildAt(posInGrand + 1)
		rightGuard, err := t.bpm.FetchWrite(rightID)
		if err != nil {
			return err
		}
		right := bnode.Internal(rightGuard.Data())

		if right.Size() > right.MinSize() {
			// The grand separator comes down; the sibling's first child and
			// second separator move over.
			parent.IncSize(1)
			parent.SetKeyAt(parent.Size()-1, grand.KeyAt(posInGrand+1))
			parent.SetChildAt(parent.Size()-1, right.ChildAt(0))
			grand.SetKeyAt(posInGrand+1, right.KeyAt(1))
			for i := 0; i < right.Size()-1; i++ {
				right.SetKeyAt(i, right.KeyAt(i+1))
				right.SetChildAt(i, right.ChildAt(i+1))
			}
			right.IncSize(-1)
			rightGuard.Drop()
			return nil
		}
		rightGuard.Drop()
	}

	// Borrow from the left sibling.
	if posInGrand > 0 {
		leftID := grand.ChildAt(posInGrand - 1)
		leftGuard, err := t.bpm.FetchWrite(leftID)
		if err != nil {
			return err
		}
		left := bnode.Internal(leftGuard.Data())

		if left.Size() > left.MinSize() {
			parent.IncSize(1)
			for i := parent.Size() - 1; i > 0; i-- {
				parent.SetKeyAt(i, parent.KeyAt(i-1))
				parent.SetChildAt(i, parent.ChildAt(i-1))
			}
			parent.SetKeyAt(1, grand.KeyAt(posInGrand))
			parent.SetChildAt(0, left.ChildAt(left.Size()-1))
			grand.SetKeyAt(posInGrand, left.KeyAt(left.Size()-1))
			left.IncSize(-1)
			leftGuard.Drop()
			return nil
		}
		leftGuard.Drop()
	}

	// Merge with the right sibling.
	if posInGrand+1 < grand.Size() {
		rightID := grand.ChildAt(posInGrand + 1)
		rightGuard, err := t.bpm.FetchWrite(rightID)
		if err != nil {
			return err
		}
		right := bnode.Internal(rightGuard.Data())

		base := parent.Size()
		parent.SetSize(base + right.Size())
		for i := 1; i < right.Size(); i++ {
			parent.SetKeyAt(base+i, right.KeyAt(i))
		}
		// The grand separator fills the right side's unused slot-0 key.
		parent.SetKeyAt(base, grand.KeyAt(posInGrand+1))
		for i := 0; i < right.Size(); i++ {
			parent.SetChildAt(base+i, right.ChildAt(i))
		}
		derr := t.bpm.DeletePage(rightID)
		rightGuard.Drop()
		if derr != nil {
			return derr
		}
		return t.removeFromParent(ctx, posInGrand+1, grandIndex)
	}

	// Merge into the left sibling.
	if posInGrand > 0 {
		leftID := grand.ChildAt(posInGrand - 1)
		leftGuard, err := t.bpm.FetchWrite(leftID)
		if err != nil {
			return err
		}
		left := bnode.Internal(leftGuard.Data())

		base := left.Size()
		for i := 1; i < parent.Size(); i++ {
			left.SetKeyAt(base+i, parent.KeyAt(i))
		}
		left.SetKeyAt(base, grand.KeyAt(posInGrand))
		for i := 0; i < parent.Size(); i++ {
			left.SetChildAt(base+i, parent.ChildAt(i))
		}
		left.SetSize(base + parent.Size())
		derr := t.bpm.DeletePage(parentGuard.PageID())
		leftGuard.Drop()
		if derr != nil {
			return derr
		}
		return t.removeFromParent(ctx, posInGrand, grandIndex)
	}

	return nil
}
