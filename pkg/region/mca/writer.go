package mca

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Writer appends/overwrites chunks in a legacy Anvil region file,
// maintaining the sector allocator, offset table, and timestamp table.
// Unlike lrf.Writer, MCA is written in place: each chunk occupies a
// whole number of 4 KiB sectors and the allocator hands out sectors from
// the end of the file (stale space from an overwritten chunk is never
// reclaimed within a session, matching vanilla Anvil behavior).
type Writer struct {
	f            *os.File
	offsets      [slotsPerRegion]offsetEntry
	stamps       [slotsPerRegion]uint32
	nextSector   uint32
	closed       bool
}

// Create opens (truncating) path and reserves the header sectors.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mca writer: create %s: %w", path, err)
	}

	if err := f.Truncate(HeaderSectors * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("mca writer: reserve header: %w", err)
	}

	return &Writer{f: f, nextSector: HeaderSectors}, nil
}

// WriteChunk stores payload (already compressed) tagged with compression
// at local coordinates (lx, lz), timestamped stamp (unix seconds).
func (w *Writer) WriteChunk(lx, lz int32, payload []byte, compression byte, stamp uint32) error {
	idx, err := slotIndex(uint32(lx), uint32(lz))
	if err != nil {
		return err
	}

	body := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(body[0:4], uint32(len(payload)+1))
	body[4] = compression
	copy(body[5:], payload)

	sectors := sectorsFor(len(body))
	if sectors > 0xFF {
		return ErrChunkTooLarge{X: lx, Z: lz}
	}

	start := int64(w.nextSector) * SectorSize

	padded := make([]byte, sectors*SectorSize)
	copy(padded, body)

	if _, err := w.f.WriteAt(padded, start); err != nil {
		return fmt.Errorf("mca writer: write chunk (%d,%d): %w", lx, lz, err)
	}

	w.offsets[idx] = offsetEntry{SectorIndex: w.nextSector, SectorCount: uint8(sectors)}
	w.stamps[idx] = stamp
	w.nextSector += uint32(sectors)

	return nil
}

// Flush writes the offset and timestamp tables to the header sectors.
func (w *Writer) Flush() error {
	header := make([]byte, HeaderSectors*SectorSize)

	for i := 0; i < slotsPerRegion; i++ {
		b := encodeOffsetEntry(w.offsets[i])
		copy(header[i*4:i*4+4], b[:])
		binary.BigEndian.PutUint32(header[SectorSize+i*4:SectorSize+i*4+4], w.stamps[i])
	}

	if _, err := w.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("mca writer: write header: %w", err)
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
