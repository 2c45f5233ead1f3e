package mca

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Reader provides random access to chunks stored in a legacy Anvil
// region file.
type Reader struct {
	f       *os.File
	offsets [slotsPerRegion]offsetEntry
	stamps  [slotsPerRegion]uint32
	size    int64
}

// Open parses path's offset and timestamp tables.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mca reader: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mca reader: stat %s: %w", path, err)
	}

	if info.Size() < HeaderSectors*SectorSize {
		f.Close()
		return nil, fmt.Errorf("mca reader: %s shorter than header", path)
	}

	header := make([]byte, HeaderSectors*SectorSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("mca reader: read header: %w", err)
	}

	r := &Reader{f: f, size: info.Size()}

	for i := 0; i < slotsPerRegion; i++ {
		r.offsets[i] = decodeOffsetEntry(header[i*4 : i*4+4])
		r.stamps[i] = binary.BigEndian.Uint32(header[SectorSize+i*4 : SectorSize+i*4+4])
	}

	return r, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// HasChunk reports whether a chunk local to the region is present.
func (r *Reader) HasChunk(lx, lz uint32) (bool, error) {
	idx, err := slotIndex(lx, lz)
	if err != nil {
		return false, err
	}

	return !r.offsets[idx].empty(), nil
}

// Timestamp returns the slot's last-modified timestamp, 0 if absent.
func (r *Reader) Timestamp(lx, lz uint32) (uint32, error) {
	idx, err := slotIndex(lx, lz)
	if err != nil {
		return 0, err
	}

	return r.stamps[idx], nil
}

// ChunkRaw reads a chunk local to the region and returns its raw
// compressed payload plus the MCA compression id byte that tagged it.
// It does not attempt decompression; callers route that through the
// codec service via CompressionService-tagged entries, or handle GZip
// (1) / Zlib (2) directly via Decompress.
func (r *Reader) ChunkRaw(lx, lz int32) (payload []byte, compression byte, err error) {
	idx, err := slotIndex(uint32(lx), uint32(lz))
	if err != nil {
		return nil, 0, err
	}

	e := r.offsets[idx]
	if e.empty() {
		return nil, 0, os.ErrNotExist
	}

	start := int64(e.SectorIndex) * SectorSize
	span := int64(e.SectorCount) * SectorSize

	if start+span > r.size {
		return nil, 0, ErrEntryOutOfBounds{X: lx, Z: lz}
	}

	buf := make([]byte, 5)
	if _, err := r.f.ReadAt(buf, start); err != nil {
		return nil, 0, fmt.Errorf("mca reader: read chunk header (%d,%d): %w", lx, lz, err)
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	compression = buf[4]

	if length == 0 || int64(length)+4 > span {
		return nil, 0, ErrCorruptHeader{X: lx, Z: lz}
	}

	payload = make([]byte, length-1)
	if _, err := r.f.ReadAt(payload, start+5); err != nil {
		return nil, 0, fmt.Errorf("mca reader: read chunk payload (%d,%d): %w", lx, lz, err)
	}

	return payload, compression, nil
}

// Decompress inflates payload according to the legacy compression id (1
// GZip, 2 Zlib). CompressionService-tagged payloads are the codec
// service's own envelopes and are decompressed by codec.Service instead.
func Decompress(payload []byte, compression byte) ([]byte, error) {
	switch compression {
	case CompressionGZip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("mca: gzip reader: %w", err)
		}
		defer r.Close()

		return io.ReadAll(r)
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("mca: zlib reader: %w", err)
		}
		defer r.Close()

		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("mca: unsupported legacy compression id %d", compression)
	}
}

// ErrEntryOutOfBounds is returned when a slot's sector span exceeds the file length.
type ErrEntryOutOfBounds struct{ X, Z int32 }

func (e ErrEntryOutOfBounds) Error() string {
	return fmt.Sprintf("mca: chunk (%d,%d) sector span exceeds file length", e.X, e.Z)
}

// AllSlots returns the (lx, lz) local coordinates of every occupied slot.
func (r *Reader) AllSlots() [][2]int32 {
	out := make([][2]int32, 0, slotsPerRegion)

	for lz := int32(0); lz < regionDim; lz++ {
		for lx := int32(0); lx < regionDim; lx++ {
			idx, _ := slotIndex(uint32(lx), uint32(lz))
			if !r.offsets[idx].empty() {
				out = append(out, [2]int32{lx, lz})
			}
		}
	}

	return out
}
