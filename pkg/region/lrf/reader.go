package lrf

import (
	"fmt"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
)

// Reader provides random and sequential access to a written LRF file.
// It buffers the whole directory in memory on open (a region has at
// most 1024 chunks, so this is bounded) and reads payloads with one
// pread per chunk.
type Reader struct {
	f        *os.File
	header   Header
	dir      map[chunkKey]DirEntry
	order    []chunkKey
	size     int64
	presence *bitset.BitSet
}

// Open parses path's header and directory, rejecting bad magic, an
// unsupported version, and directory entries whose
// offset+compressed_size exceed the file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lrf reader: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("lrf reader: stat %s: %w", path, err)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("lrf reader: read header: %w", err)
	}

	header, err := decodeHeader(headerBytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	dirLenPrefix := make([]byte, 4)
	if _, err := f.ReadAt(dirLenPrefix, int64(header.DirectoryOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("lrf reader: read directory length: %w", err)
	}

	count := int(leUint32(dirLenPrefix))
	dirBytes := make([]byte, 4+count*directoryEntrySize)
	if _, err := f.ReadAt(dirBytes, int64(header.DirectoryOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("lrf reader: read directory: %w", err)
	}

	entries, err := decodeDirectory(dirBytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	dir := make(map[chunkKey]DirEntry, len(entries))
	order := make([]chunkKey, 0, len(entries))
	presence := bitset.New(regionSlots)

	for _, e := range entries {
		if int64(e.Offset+uint64(e.CompressedSize)) > info.Size() {
			f.Close()
			return nil, ErrEntryOutOfBounds{X: e.ChunkX, Z: e.ChunkZ}
		}

		k := chunkKey{e.ChunkX, e.ChunkZ}
		dir[k] = e
		order = append(order, k)
		presence.Set(localSlot(e.ChunkX, e.ChunkZ))
	}

	return &Reader{f: f, header: header, dir: dir, order: order, size: info.Size(), presence: presence}, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// CompressionID is the codec magic byte every chunk in this file was
// compressed with.
func (r *Reader) CompressionID() byte {
	return r.header.CompressionID
}

// HasChunk reports whether the directory lists (cx, cz). It checks the
// region-local presence bitset first, a single bit test standing in for
// the hash lookup a directory-map-only implementation would need.
func (r *Reader) HasChunk(cx, cz int32) bool {
	if !r.presence.Test(localSlot(cx, cz)) {
		return false
	}

	_, ok := r.dir[chunkKey{cx, cz}]

	return ok
}

// ReadChunk returns the raw (still compressed) payload for (cx, cz),
// verifying its checksum and declared-size cap first.
func (r *Reader) ReadChunk(cx, cz int32) ([]byte, error) {
	e, ok := r.dir[chunkKey{cx, cz}]
	if !ok {
		return nil, os.ErrNotExist
	}

	if e.UncompressedSize > chunkpos.ChunkCap {
		return nil, ErrChunkTooLarge{X: cx, Z: cz, Size: e.UncompressedSize}
	}

	buf := make([]byte, e.CompressedSize)
	if _, err := r.f.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("lrf reader: read chunk (%d,%d): %w", cx, cz, err)
	}

	if uint32(xxhash.Sum64(buf)) != e.Checksum {
		return nil, ErrChecksumMismatch{X: cx, Z: cz}
	}

	return buf, nil
}

// Entry pairs a directory record with its raw payload, as yielded by ReadAll.
type Entry struct {
	DirEntry
	Payload []byte
}

// ReadAll returns every chunk in directory order. Callers must not
// depend on any particular ordering.
func (r *Reader) ReadAll() ([]Entry, error) {
	out := make([]Entry, 0, len(r.order))

	for _, k := range r.order {
		payload, err := r.ReadChunk(k.X, k.Z)
		if err != nil {
			return nil, err
		}

		out = append(out, Entry{DirEntry: r.dir[k], Payload: payload})
	}

	return out, nil
}

// Count returns the number of chunks in the directory.
func (r *Reader) Count() int {
	return len(r.order)
}
