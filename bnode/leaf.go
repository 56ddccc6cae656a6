package bnode

// LeafPage provides operations on a leaf page's raw byte slice.
// A slot holds a (key, value) pair; keys are strictly increasing.
type LeafPage struct {
	data []byte
}

// Leaf wraps raw bytes as a leaf page without initializing them.
func Leaf(data []byte) *LeafPage {
	return &LeafPage{data: data}
}

// Init initializes the bytes as an empty leaf with the given slot bound.
func (p *LeafPage) Init(maxSize int) {
	setPageType(p.data, PageTypeLeaf)
	setSize(p.data, 0)
	setMaxSize(p.data, maxSize)
	setNext(p.data, 0)
}

// Size returns the number of stored entries.
func (p *LeafPage) Size() int {
	return GetSize(p.data)
}

// SetSize sets the number of stored entries.
func (p *LeafPage) SetSize(size int) {
	setSize(p.data, size)
}

// IncSize adjusts the entry count by delta.
func (p *LeafPage) IncSize(delta int) {
	setSize(p.data, GetSize(p.data)+delta)
}

// MaxSize returns the slot bound set at Init.
func (p *LeafPage) MaxSize() int {
	return GetMaxSize(p.data)
}

// MinSize returns the occupancy floor for a non-root leaf.
func (p *LeafPage) MinSize() int {
	return GetMaxSize(p.data) / 2
}

// NextPageID returns the page id of the next leaf in key order,
// or 0 at the end of the chain.
func (p *LeafPage) NextPageID() uint64 {
	return getNext(p.data)
}

// SetNextPageID sets the next-leaf link.
func (p *LeafPage) SetNextPageID(pid uint64) {
	setNext(p.data, pid)
}

// KeyAt returns the key stored in slot i.
func (p *LeafPage) KeyAt(i int) uint64 {
	return getSlotLo(p.data, i)
}

// ValueAt returns the value stored in slot i.
func (p *LeafPage) ValueAt(i int) uint64 {
	return getSlotHi(p.data, i)
}

// SetAt stores a (key, value) pair in slot i.
func (p *LeafPage) SetAt(i int, key, value uint64) {
	setSlotLo(p.data, i, key)
	setSlotHi(p.data, i, value)
}
