// Package mca implements read/write access to the legacy Anvil (MCA)
// region file format, preserved for backward compatibility alongside the
// Linear Region Format in package lrf.
package mca

import "fmt"

// SectorSize is the fixed block size MCA allocates storage in.
const SectorSize = 4096

// HeaderSectors is the number of 4 KiB sectors occupied by the offset
// table and the timestamp table, written at the start of every file.
const HeaderSectors = 2

// slotsPerRegion is the number of chunk slots in a 32x32 region.
const slotsPerRegion = 1024

// regionDim is the chunk width/height of a region.
const regionDim = 32

// Compression ids recorded in a chunk's 5-byte header.
const (
	CompressionGZip byte = 1
	CompressionZlib byte = 2
	// CompressionService is a vendor extension: the remaining byte space
	// is repurposed to record one of chunkengine's own codec magic bytes,
	// so migrated-then-reconverted MCA files can still round-trip through
	// the codec service instead of only GZip/Zlib.
	CompressionService byte = 128
)

// slotIndex returns the offset-table slot for a chunk local to its
// region, per the legacy (z*32 + x) layout.
func slotIndex(lx, lz uint32) (int, error) {
	if lx >= regionDim || lz >= regionDim {
		return 0, fmt.Errorf("mca: local coordinate (%d,%d) out of range", lx, lz)
	}

	return int(lz*regionDim + lx), nil
}

// offsetEntry is the legacy packed (sector_index:u24, sector_count:u8) pair.
type offsetEntry struct {
	SectorIndex uint32
	SectorCount uint8
}

func (e offsetEntry) empty() bool {
	return e.SectorIndex == 0 && e.SectorCount == 0
}

func decodeOffsetEntry(b []byte) offsetEntry {
	return offsetEntry{
		SectorIndex: uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		SectorCount: b[3],
	}
}

func encodeOffsetEntry(e offsetEntry) [4]byte {
	var b [4]byte
	b[0] = byte(e.SectorIndex >> 16)
	b[1] = byte(e.SectorIndex >> 8)
	b[2] = byte(e.SectorIndex)
	b[3] = e.SectorCount

	return b
}

// sectorsFor returns how many 4 KiB sectors n bytes (the 4-byte length
// prefix plus payload) occupies, rounded up. The count stays an int so
// callers can reject a chunk that would overflow the single-byte
// sector-count field before narrowing.
func sectorsFor(n int) int {
	sectors := (n + SectorSize - 1) / SectorSize
	if sectors < 1 {
		sectors = 1
	}

	return sectors
}

// ErrChunkTooLarge is returned when a chunk's sector count would overflow
// the single-byte count field (255 sectors, ~1 MiB).
type ErrChunkTooLarge struct{ X, Z int32 }

func (e ErrChunkTooLarge) Error() string {
	return fmt.Sprintf("mca: chunk (%d,%d) exceeds 255-sector (~1MiB) limit", e.X, e.Z)
}

// ErrCorruptHeader is returned when a chunk's declared length overflows
// its allocated sector span.
type ErrCorruptHeader struct{ X, Z int32 }

func (e ErrCorruptHeader) Error() string {
	return fmt.Sprintf("mca: chunk (%d,%d) declares a length overflowing its sector allocation", e.X, e.Z)
}
