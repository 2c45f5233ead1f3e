// Package region implements the on-disk region format layer: the Linear
// Region Format (LRF) reader/writer, a backward-compatible legacy Anvil
// (MCA) reader/writer, and the converter/validator/recovery manager that
// bridge the two during migration.
package region

import "github.com/pyroclast-games/chunkengine/pkg/chunkpos"

// ChunkEntry is a chunk's payload in flight between the codec layer and
// a region file: chunk coordinates as the caller supplies them (the
// storage manager takes world chunk coordinates and reduces them to a
// region's 0..31 slots when addressing the file), the uncompressed
// payload, and the magic byte of the codec that produced
// (or should produce) its compressed form.
type ChunkEntry struct {
	ChunkX      int32
	ChunkZ      int32
	Payload     []byte // uncompressed
	CompressorID byte
}

// ChunkCap bounds a single chunk's uncompressed payload size: 16x16x256
// blocks worth of section data.
const ChunkCap = chunkpos.ChunkCap

// ValidatorCap is the per-chunk payload cap (1 MiB) the validator
// enforces during conversion; it is looser than ChunkCap.
const ValidatorCap = 1 << 20
