// Package lrf implements the Linear Region Format: chunkengine's
// replacement for the legacy Anvil region file, a fixed header, an
// explicit-offset directory, and an append-only payload area.
package lrf

import "fmt"

// Magic is the four-byte file identifier at offset 0.
var Magic = [4]byte{'L', 'R', 'F', 0}

// Version is the current on-disk format version this package writes.
const Version uint32 = 1

// headerSize is fixed: magic(4) + version(4) + compressionID(1) +
// flags(1) + reserved(2) + directoryOffset(8).
//
// The directory has no fixed position in the file; readers must locate
// it through the header's explicit directoryOffset field.
const headerSize = 4 + 4 + 1 + 1 + 2 + 8

// directoryEntrySize: cx(4) + cz(4) + offset(8) + compressedSize(4) +
// uncompressedSize(4) + checksum(4).
const directoryEntrySize = 4 + 4 + 8 + 4 + 4 + 4

// Flag bits stored in the header's flags byte.
const (
	FlagTrailerMirror byte = 1 << 0
)

// Header is the fixed LRF file header.
type Header struct {
	Version         uint32
	CompressionID   byte
	Flags           byte
	DirectoryOffset uint64
}

// HasTrailerMirror reports whether the writer duplicated the directory
// at the end of the file for crash recovery.
func (h Header) HasTrailerMirror() bool {
	return h.Flags&FlagTrailerMirror != 0
}

// DirEntry is one directory slot: the chunk it describes and where its
// compressed payload lives in the file.
type DirEntry struct {
	ChunkX           int32
	ChunkZ           int32
	Offset           uint64
	CompressedSize   uint32
	UncompressedSize uint32
	Checksum         uint32
}

// chunkKey is the in-memory directory lookup key.
type chunkKey struct{ X, Z int32 }

// regionSlots is the number of local chunk slots in one region (32x32),
// matching the legacy format's per-region chunk grid.
const regionSlots = 32 * 32

// localSlot maps a chunk's region-local coordinates onto a single index
// in [0, regionSlots), the same local addressing the legacy format uses.
func localSlot(cx, cz int32) uint {
	lx := uint32(cx) & 31
	lz := uint32(cz) & 31

	return uint(lz*32 + lx)
}

// ErrBadMagic is returned when a file does not start with the LRF magic.
type ErrBadMagic struct{ Got [4]byte }

func (e ErrBadMagic) Error() string {
	return fmt.Sprintf("lrf: bad magic %v", e.Got)
}

// ErrUnsupportedVersion is returned for a version this reader cannot parse.
type ErrUnsupportedVersion struct{ Got uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("lrf: unsupported version %d", e.Got)
}

// ErrDuplicateChunk is returned by the writer when the same (cx, cz) is
// added twice in one session.
type ErrDuplicateChunk struct{ X, Z int32 }

func (e ErrDuplicateChunk) Error() string {
	return fmt.Sprintf("lrf: duplicate chunk (%d, %d)", e.X, e.Z)
}

// ErrChunkTooLarge is returned when a declared chunk size exceeds the
// per-chunk cap (region.ChunkCap).
type ErrChunkTooLarge struct {
	X, Z int32
	Size uint32
}

func (e ErrChunkTooLarge) Error() string {
	return fmt.Sprintf("lrf: chunk (%d, %d) declares size %d exceeding cap", e.X, e.Z, e.Size)
}

// ErrChecksumMismatch is returned when a payload's xxhash does not match
// its directory entry.
type ErrChecksumMismatch struct{ X, Z int32 }

func (e ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("lrf: checksum mismatch for chunk (%d, %d)", e.X, e.Z)
}

// ErrEntryOutOfBounds is returned when offset+compressedSize exceeds the
// file's length.
type ErrEntryOutOfBounds struct{ X, Z int32 }

func (e ErrEntryOutOfBounds) Error() string {
	return fmt.Sprintf("lrf: directory entry for chunk (%d, %d) exceeds file length", e.X, e.Z)
}
