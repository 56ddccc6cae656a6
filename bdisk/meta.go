package bdisk

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	// Magic number to identify bindex files
	Magic uint32 = 0x42494458 // "BIDX"

	// Version of the file format
	Version uint32 = 1
)

// MetaPage represents the file header and metadata.
// Stored at page 0.
type MetaPage struct {
	Reserved  [8]byte // Reserved for future use
	Magic     uint32  // File format magic number
	Version   uint32  // File format version
	PageCount uint64  // Total number of allocated pages
	FreeList  PageID  // Head of free page list (0 if none)
	Checksum  uint64  // xxhash64 over the fields above
}

// MetaPageSize is the serialized size of MetaPage.
const MetaPageSize = 8 + 4 + 4 + 8 + 8 + 8 // 40 bytes

// checksumRegion is the byte range the checksum covers: everything
// before the checksum field itself.
const checksumRegion = MetaPageSize - 8

// Serialize writes the meta page, including a fresh checksum, to buf.
func (m *MetaPage) Serialize(buf []byte) {
	// Bytes 0-7 are reserved
	binary.LittleEndian.PutUint32(buf[8:12], m.Magic)
	binary.LittleEndian.PutUint32(buf[12:16], m.Version)
	binary.LittleEndian.PutUint64(buf[16:24], m.PageCount)
	binary.LittleEndian.PutUint64(buf[24:32], m.FreeList)

	m.Checksum = xxhash.Sum64(buf[:checksumRegion])
	binary.LittleEndian.PutUint64(buf[32:40], m.Checksum)
}

// Deserialize reads the meta page from buf.
func (m *MetaPage) Deserialize(buf []byte) {
	// Bytes 0-7 are reserved
	m.Magic = binary.LittleEndian.Uint32(buf[8:12])
	m.Version = binary.LittleEndian.Uint32(buf[12:16])
	m.PageCount = binary.LittleEndian.Uint64(buf[16:24])
	m.FreeList = binary.LittleEndian.Uint64(buf[24:32])
	m.Checksum = binary.LittleEndian.Uint64(buf[32:40])
}

// ChecksumOK reports whether the stored checksum matches the serialized fields.
func (m *MetaPage) ChecksumOK(buf []byte) bool {
	return m.Checksum == xxhash.Sum64(buf[:checksumRegion])
}

// getFreeNext reads the next-free-page pointer from a freed page.
func getFreeNext(data []byte) PageID {
	return binary.LittleEndian.Uint64(data[0:8])
}

// setFreeNext stores the next-free-page pointer in a freed page.
func setFreeNext(data []byte, next PageID) {
	binary.LittleEndian.PutUint64(data[0:8], next)
}
