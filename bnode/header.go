package bnode

import (
	"encoding/binary"
)

// HeaderPage is the tree's single persistent record: the current root page
// id, stored in the first 8 bytes of a dedicated page. It does not carry the
// common node header; it is never part of the tree itself.
type HeaderPage struct {
	data []byte
}

// Header wraps raw bytes as a tree header page.
func Header(data []byte) *HeaderPage {
	return &HeaderPage{data: data}
}

// RootPageID returns the current root page id, or 0 for an empty tree.
func (p *HeaderPage) RootPageID() uint64 {
	return binary.LittleEndian.Uint64(p.data[0:8])
}

// SetRootPageID publishes a new root page id.
func (p *HeaderPage) SetRootPageID(pid uint64) {
	binary.LittleEndian.PutUint64(p.data[0:8], pid)
}
