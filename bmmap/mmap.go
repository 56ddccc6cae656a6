// Package bmmap maps a page-granular database file into memory.
//
// The file is addressed in fixed-size pages, never byte offsets: the disk
// manager above reads and writes whole pages and nothing else. Capacity
// grows in whole pages, doubling each step, and growth is backed by
// Truncate, so a page that has never been written reads as zeroes. Every
// grow remaps the file; callers must not hold page slices across EnsurePage.
package bmmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a memory-mapped, page-addressed file. It is not safe for
// concurrent use; the owning disk manager serializes access to it.
type File struct {
	file     *os.File
	data     []byte
	pageSize int
	numPages int64
}

// Open maps the file at path, creating it with minPages pages if it does
// not exist. An existing file keeps its contents; its size is rounded up to
// whole pages, and to at least minPages.
func Open(path string, pageSize int, minPages int64) (*File, error) {
	if pageSize <= 0 || minPages <= 0 {
		return nil, fmt.Errorf("bmmap: bad geometry %d pages x %d bytes", minPages, pageSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("bmmap: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bmmap: stat %s: %w", path, err)
	}

	numPages := (info.Size() + int64(pageSize) - 1) / int64(pageSize)
	if numPages < minPages {
		numPages = minPages
	}
	size := numPages * int64(pageSize)
	if size != info.Size() {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("bmmap: size %s to %d pages: %w", path, numPages, err)
		}
	}

	data, err := mapFile(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		file:     f,
		data:     data,
		pageSize: pageSize,
		numPages: numPages,
	}, nil
}

func mapFile(f *os.File, size int64) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("bmmap: mmap: %w", err)
	}
	// Page traffic is random once the index has any depth.
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return data, nil
}

// Page returns the mapped bytes of one page, or nil if the page is not
// addressable. The slice is valid only until the next EnsurePage or Close.
func (m *File) Page(id int64) []byte {
	if m.data == nil || id < 0 || id >= m.numPages {
		return nil
	}
	off := id * int64(m.pageSize)
	return m.data[off : off+int64(m.pageSize)]
}

// NumPages returns how many pages are currently addressable.
func (m *File) NumPages() int64 {
	return m.numPages
}

// SizeBytes returns the mapped file size in bytes.
func (m *File) SizeBytes() int64 {
	return m.numPages * int64(m.pageSize)
}

// EnsurePage grows the file until the given page is addressable, doubling
// the page capacity each step. Growing remaps the file and invalidates all
// previously returned page slices. An already-addressable page is a no-op.
func (m *File) EnsurePage(id int64) error {
	if m.data == nil {
		return fmt.Errorf("bmmap: file is closed")
	}
	if id < m.numPages {
		return nil
	}

	newPages := m.numPages
	for newPages <= id {
		newPages *= 2
	}

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("bmmap: unmap for grow: %w", err)
	}
	m.data = nil

	if err := m.file.Truncate(newPages * int64(m.pageSize)); err != nil {
		return fmt.Errorf("bmmap: grow to %d pages: %w", newPages, err)
	}
	data, err := mapFile(m.file, newPages*int64(m.pageSize))
	if err != nil {
		return err
	}

	m.data = data
	m.numPages = newPages
	return nil
}

// Sync flushes the mapping to disk.
func (m *File) Sync() error {
	if m.data == nil {
		return fmt.Errorf("bmmap: file is closed")
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("bmmap: msync: %w", err)
	}
	return nil
}

// Close unmaps and closes the file.
func (m *File) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("bmmap: unmap: %w", err)
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("bmmap: close: %w", err)
		}
		m.file = nil
	}
	return nil
}
