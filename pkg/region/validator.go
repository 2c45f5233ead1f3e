package region

import (
	"fmt"

	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
	"github.com/rs/zerolog"
)

// ValidationIssue is one rejection or warning the validator produced for
// a single chunk within a conversion batch.
type ValidationIssue struct {
	ChunkX, ChunkZ int32
	Reason         string
	Fatal          bool
}

// maxKnownNBTTagID is the highest first-byte value a valid top-level
// NBT compound may start with (TAG_End through TAG_LongArray); anything
// above it is rejected.
const maxKnownNBTTagID = 0x0C

// ChunkDataValidator holds per-batch state (the set of coordinates seen
// so far) while validating chunks bound for conversion or write.
type ChunkDataValidator struct {
	seen map[[2]int32]struct{}
	log  zerolog.Logger
}

// NewChunkDataValidator returns a validator for one conversion batch. A
// fresh validator must be constructed per batch: duplicate detection is
// scoped to it.
func NewChunkDataValidator(log zerolog.Logger) *ChunkDataValidator {
	return &ChunkDataValidator{
		seen: make(map[[2]int32]struct{}),
		log:  log.With().Str("component", "chunk_validator").Logger(),
	}
}

// Validate checks one chunk entry against the conversion rejection
// rules.
// It returns a non-nil issue with Fatal=true for anything that must
// abort conversion of that chunk, and nil otherwise; a suspicious-but
// survivable condition is only logged as a warning, not rejected.
func (v *ChunkDataValidator) Validate(cx, cz int32, payload []byte) *ValidationIssue {
	if len(payload) == 0 {
		return &ValidationIssue{ChunkX: cx, ChunkZ: cz, Reason: "empty payload", Fatal: true}
	}

	if len(payload) > ValidatorCap {
		return &ValidationIssue{ChunkX: cx, ChunkZ: cz, Reason: fmt.Sprintf("payload %d bytes exceeds 1MiB cap", len(payload)), Fatal: true}
	}

	c := chunkpos.Chunk{X: cx, Z: cz}
	if !c.InBounds() {
		return &ValidationIssue{ChunkX: cx, ChunkZ: cz, Reason: "coordinate out of range", Fatal: true}
	}

	key := [2]int32{cx, cz}
	if _, dup := v.seen[key]; dup {
		return &ValidationIssue{ChunkX: cx, ChunkZ: cz, Reason: "duplicate chunk in batch", Fatal: true}
	}

	if payload[0] > maxKnownNBTTagID {
		return &ValidationIssue{ChunkX: cx, ChunkZ: cz, Reason: fmt.Sprintf("unknown leading NBT tag id 0x%02X", payload[0]), Fatal: true}
	}

	v.seen[key] = struct{}{}

	if len(payload) > ValidatorCap/2 {
		v.log.Warn().Int32("cx", cx).Int32("cz", cz).Int("size", len(payload)).
			Msg("chunk payload suspiciously large")
	}

	return nil
}

// Accepted returns how many distinct chunks this validator has accepted
// so far in the current batch.
func (v *ChunkDataValidator) Accepted() int {
	return len(v.seen)
}
