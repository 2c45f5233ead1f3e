package lrf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// streamBatchSize bounds how many pending chunk writes the writer keeps
// buffered before forcing a flush to disk, bounding peak memory.
const streamBatchSize = 64

// Writer appends chunk entries to a new LRF file. The directory is kept
// in memory (it is small: O(1024) entries per region) while payloads are
// streamed to disk in bounded batches; Flush writes the directory at
// whatever offset the payload area ended up at, then patches the header
// with that offset.
type Writer struct {
	f   *os.File
	buf *bufio.Writer

	compressionID byte
	trailerMirror bool

	payloadOffset uint64 // next write offset within the payload area
	pending       int    // adds since last physical flush

	dir      []DirEntry
	seen     map[chunkKey]struct{}
	presence *bitset.BitSet

	closed bool
}

// NewWriter creates (truncating) an LRF file at path. compressionID is
// recorded in the header as the codec every chunk in this session was
// compressed with.
func NewWriter(path string, compressionID byte, trailerMirror bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lrf writer: open %s: %w", path, err)
	}

	w := &Writer{
		f:             f,
		buf:           bufio.NewWriterSize(f, 256*1024),
		compressionID: compressionID,
		trailerMirror: trailerMirror,
		seen:          make(map[chunkKey]struct{}),
		presence:      bitset.New(regionSlots),
	}

	// Reserve space for the header; it is patched with the real
	// directory offset on Flush.
	if _, err := f.Write(make([]byte, headerSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("lrf writer: reserve header: %w", err)
	}

	w.payloadOffset = headerSize

	return w, nil
}

// Add appends one chunk's already-compressed payload. It refuses a
// duplicate (cx, cz) within the same writer session, matching the
// validator's duplicate-rejection policy.
func (w *Writer) Add(cx, cz int32, compressed []byte, uncompressedSize uint32) error {
	slot := localSlot(cx, cz)
	k := chunkKey{cx, cz}

	// The presence bit only rules out "definitely new"; a full region
	// has every slot set, so the map is still consulted to confirm an
	// actual (cx, cz) collision rather than just a local-slot reuse.
	if w.presence.Test(slot) {
		if _, dup := w.seen[k]; dup {
			return ErrDuplicateChunk{X: cx, Z: cz}
		}
	}

	w.presence.Set(slot)
	w.seen[k] = struct{}{}

	n, err := w.buf.Write(compressed)
	if err != nil {
		return fmt.Errorf("lrf writer: write chunk (%d,%d): %w", cx, cz, err)
	}

	w.dir = append(w.dir, DirEntry{
		ChunkX:           cx,
		ChunkZ:           cz,
		Offset:           w.payloadOffset,
		CompressedSize:   uint32(n),
		UncompressedSize: uncompressedSize,
		Checksum:         uint32(xxhash.Sum64(compressed)),
	})

	w.payloadOffset += uint64(n)
	w.pending++

	if w.pending >= streamBatchSize {
		if err := w.buf.Flush(); err != nil {
			return fmt.Errorf("lrf writer: batch flush: %w", err)
		}
		w.pending = 0
	}

	return nil
}

// Flush writes the directory (and, if configured, a trailer mirror of
// it) and patches the header with the real directory offset. It does
// not close the underlying file.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("lrf writer: flush payload: %w", err)
	}

	directoryOffset := w.payloadOffset

	dirBytes := encodeDirectory(w.dir)
	if _, err := w.f.WriteAt(dirBytes, int64(directoryOffset)); err != nil {
		return fmt.Errorf("lrf writer: write directory: %w", err)
	}

	end := directoryOffset + uint64(len(dirBytes))

	flags := byte(0)
	if w.trailerMirror {
		flags |= FlagTrailerMirror

		if _, err := w.f.WriteAt(dirBytes, int64(end)); err != nil {
			return fmt.Errorf("lrf writer: write trailer mirror: %w", err)
		}
	}

	header := encodeHeader(Header{
		Version:         Version,
		CompressionID:   w.compressionID,
		Flags:           flags,
		DirectoryOffset: directoryOffset,
	})

	if _, err := w.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("lrf writer: patch header: %w", err)
	}

	return w.f.Sync()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}

	return w.f.Close()
}

func encodeHeader(h Header) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	b[8] = h.CompressionID
	b[9] = h.Flags
	// b[10:12] reserved, left zero
	binary.LittleEndian.PutUint64(b[12:20], h.DirectoryOffset)

	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("lrf: short header (%d bytes)", len(b))
	}

	var magic [4]byte
	copy(magic[:], b[0:4])
	if magic != Magic {
		return Header{}, ErrBadMagic{Got: magic}
	}

	version := binary.LittleEndian.Uint32(b[4:8])
	if version != Version {
		return Header{}, ErrUnsupportedVersion{Got: version}
	}

	return Header{
		Version:         version,
		CompressionID:   b[8],
		Flags:           b[9],
		DirectoryOffset: binary.LittleEndian.Uint64(b[12:20]),
	}, nil
}

func encodeDirectory(entries []DirEntry) []byte {
	b := make([]byte, 4+len(entries)*directoryEntrySize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(entries)))

	off := 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(b[off:off+4], uint32(e.ChunkX))
		binary.LittleEndian.PutUint32(b[off+4:off+8], uint32(e.ChunkZ))
		binary.LittleEndian.PutUint64(b[off+8:off+16], e.Offset)
		binary.LittleEndian.PutUint32(b[off+16:off+20], e.CompressedSize)
		binary.LittleEndian.PutUint32(b[off+20:off+24], e.UncompressedSize)
		binary.LittleEndian.PutUint32(b[off+24:off+28], e.Checksum)
		off += directoryEntrySize
	}

	return b
}

func decodeDirectory(b []byte) ([]DirEntry, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("lrf: short directory")
	}

	count := binary.LittleEndian.Uint32(b[0:4])
	want := 4 + int(count)*directoryEntrySize
	if len(b) < want {
		return nil, fmt.Errorf("lrf: directory truncated: want %d bytes, have %d", want, len(b))
	}

	entries := make([]DirEntry, count)
	off := 4

	for i := range entries {
		entries[i] = DirEntry{
			ChunkX:           int32(binary.LittleEndian.Uint32(b[off : off+4])),
			ChunkZ:           int32(binary.LittleEndian.Uint32(b[off+4 : off+8])),
			Offset:           binary.LittleEndian.Uint64(b[off+8 : off+16]),
			CompressedSize:   binary.LittleEndian.Uint32(b[off+16 : off+20]),
			UncompressedSize: binary.LittleEndian.Uint32(b[off+20 : off+24]),
			Checksum:         binary.LittleEndian.Uint32(b[off+24 : off+28]),
		}
		off += directoryEntrySize
	}

	return entries, nil
}
