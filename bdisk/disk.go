// Package bdisk manages page-granular storage on top of a memory-mapped file.
//
// Page 0 is the disk meta page and is never handed out by Allocate. Callers
// read and write whole pages through buffers they own; the mapping itself is
// never exposed, so a growth-triggered remap cannot invalidate a caller's
// view.
package bdisk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oda/bindex/bmmap"
)

const (
	// PageSize is the size of each page in bytes.
	// 4096 bytes is the standard OS page size and optimal for I/O.
	PageSize = 4096

	// InitialPages is the page capacity of a freshly created file (1MB).
	InitialPages = 1024 * 1024 / PageSize

	// MetaPageID is the page ID of the disk meta page.
	MetaPageID PageID = 0
)

// PageID is the identifier for a page.
// 0 names the meta page and doubles as the "no page" sentinel.
type PageID = uint64

// ErrCorrupted reports a meta page that fails its integrity checks.
var ErrCorrupted = errors.New("bdisk: corrupted meta page")

// Manager allocates, frees, reads and writes fixed-size pages.
type Manager struct {
	mmap *bmmap.File
	meta *MetaPage
	mu   sync.Mutex
}

// Open opens or creates a database file.
func Open(path string) (*Manager, error) {
	m, err := bmmap.Open(path, PageSize, InitialPages)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap: %w", err)
	}

	d := &Manager{
		mmap: m,
		meta: &MetaPage{},
	}

	if err := d.loadOrInitMeta(); err != nil {
		m.Close()
		return nil, err
	}

	return d, nil
}

// loadOrInitMeta loads existing metadata or initializes a new file.
func (d *Manager) loadOrInitMeta() error {
	data := d.mmap.Page(0)
	if data == nil {
		return fmt.Errorf("failed to read meta page")
	}

	d.meta.Deserialize(data)

	if d.meta.Magic == 0 {
		// New file
		d.meta.Magic = Magic
		d.meta.Version = Version
		d.meta.PageCount = 1 // Meta page is page 0
		d.meta.FreeList = 0
		d.writeMeta()
		return nil
	}

	if d.meta.Magic != Magic {
		return fmt.Errorf("%w: bad magic number", ErrCorrupted)
	}
	if d.meta.Version != Version {
		return fmt.Errorf("unsupported version: %d (expected %d)", d.meta.Version, Version)
	}
	if !d.meta.ChecksumOK(data) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	return nil
}

// writeMeta writes the metadata, with a fresh checksum, to the meta page.
func (d *Manager) writeMeta() {
	data := d.mmap.Page(0)
	d.meta.Serialize(data)
}

// Close syncs and closes the underlying file.
func (d *Manager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeMeta()
	if err := d.mmap.Sync(); err != nil {
		return err
	}
	return d.mmap.Close()
}

// ReadPage copies the page's contents into buf.
// buf must be PageSize bytes.
func (d *Manager) ReadPage(id PageID, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := d.mmap.Page(int64(id))
	if src == nil {
		return fmt.Errorf("page %d out of range", id)
	}
	copy(buf, src)
	return nil
}

// WritePage copies buf into the page.
// buf must be PageSize bytes.
func (d *Manager) WritePage(id PageID, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst := d.mmap.Page(int64(id))
	if dst == nil {
		return fmt.Errorf("page %d out of range", id)
	}
	copy(dst, buf)
	return nil
}

// Allocate allocates a new page and returns its ID.
// Freed pages are reused before the file is extended.
func (d *Manager) Allocate() (PageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Check free list first
	if d.meta.FreeList != 0 {
		pageID := d.meta.FreeList

		// The freed page's first 8 bytes hold the next free page.
		data := d.mmap.Page(int64(pageID))
		nextFree := getFreeNext(data)

		d.meta.FreeList = nextFree
		d.writeMeta()

		clearPage(data)
		return pageID, nil
	}

	newPageID := PageID(d.meta.PageCount)
	if err := d.mmap.EnsurePage(int64(newPageID)); err != nil {
		return 0, fmt.Errorf("failed to grow file: %w", err)
	}

	d.meta.PageCount++
	d.writeMeta()

	return newPageID, nil
}

// Deallocate adds a page to the free list.
// Deallocating a page that is already on the free list is not detected;
// callers must only free pages they own.
func (d *Manager) Deallocate(id PageID) error {
	if id == MetaPageID {
		return fmt.Errorf("cannot deallocate meta page")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data := d.mmap.Page(int64(id))
	if data == nil {
		return fmt.Errorf("page %d out of range", id)
	}

	clearPage(data)
	setFreeNext(data, d.meta.FreeList)

	d.meta.FreeList = id
	d.writeMeta()

	return nil
}

// Sync flushes all changes to disk.
func (d *Manager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeMeta()
	return d.mmap.Sync()
}

// PageCount returns the total number of allocated pages, meta page included.
func (d *Manager) PageCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta.PageCount
}

// FileSize returns the current size of the backing file in bytes.
func (d *Manager) FileSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mmap.SizeBytes()
}

func clearPage(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
