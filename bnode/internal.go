package bnode

// InternalPage provides operations on an internal page's raw byte slice.
//
// Size counts children: a page of size k holds k child pointers and k-1
// separators. The key of slot 0 is never read; slots [1, size) each hold a
// (separator, child) pair, with every key in child i at least key_at(i).
type InternalPage struct {
	data []byte
}

// Internal wraps raw bytes as an internal page without initializing them.
func Internal(data []byte) *InternalPage {
	return &InternalPage{data: data}
}

// Init initializes the bytes as an empty internal page with the given
// slot bound.
func (p *InternalPage) Init(maxSize int) {
	setPageType(p.data, PageTypeInternal)
	setSize(p.data, 0)
	setMaxSize(p.data, maxSize)
	setNext(p.data, 0)
}

// Size returns the number of children.
func (p *InternalPage) Size() int {
	return GetSize(p.data)
}

// SetSize sets the number of children.
func (p *InternalPage) SetSize(size int) {
	setSize(p.data, size)
}

// IncSize adjusts the child count by delta.
func (p *InternalPage) IncSize(delta int) {
	setSize(p.data, GetSize(p.data)+delta)
}

// MaxSize returns the slot bound set at Init.
func (p *InternalPage) MaxSize() int {
	return GetMaxSize(p.data)
}

// MinSize returns the occupancy floor for a non-root internal page.
func (p *InternalPage) MinSize() int {
	return (GetMaxSize(p.data) + 1) / 2
}

// KeyAt returns the separator stored in slot i. Slot 0 has no separator.
func (p *InternalPage) KeyAt(i int) uint64 {
	return getSlotLo(p.data, i)
}

// SetKeyAt stores a separator in slot i.
func (p *InternalPage) SetKeyAt(i int, key uint64) {
	setSlotLo(p.data, i, key)
}

// ChildAt returns the child page id stored in slot i.
func (p *InternalPage) ChildAt(i int) uint64 {
	return getSlotHi(p.data, i)
}

// SetChildAt stores a child page id in slot i.
func (p *InternalPage) SetChildAt(i int, pid uint64) {
	setSlotHi(p.data, i, pid)
}
