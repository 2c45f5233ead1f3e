package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// migrationDecodeFallback is the output capacity preallocated for every
// decode under ContextMigration, whether or not the frame advertises its
// decompressed size. Runtime decodes preallocate nothing and let the
// decoder size the output; a frame without a declared content size is
// decoded there as well, not refused.
const migrationDecodeFallback = 1 << 20 // 1 MiB

// zstdCodec implements Codec for Zstd envelopes: [magic:1][zstd_frame:*].
// Compress emits one frame per call via EncodeAll; Decompress decodes a
// single frame, preallocating migrationDecodeFallback bytes of output
// capacity under ContextMigration.
type zstdCodec struct {
	level int
	ctx   Context
}

// NewZstd returns a Zstd codec with level clamped into [1, 22] (or
// [1, 19] under ContextMigration, where level >= 20 is refused as
// unsafe for bulk conversion work).
func NewZstd(level int, ctx Context) Codec {
	clamped, _ := ClampLevel(Zstd, level, ctx)
	return &zstdCodec{level: clamped, ctx: ctx}
}

func (c *zstdCodec) Name() string { return "zstd" }
func (c *zstdCodec) Magic() byte  { return MagicZstd }
func (c *zstdCodec) Level() int   { return c.level }

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{MagicZstd}, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
	if err != nil {
		return nil, fmt.Errorf("zstd compress: build encoder: %w", err)
	}
	defer enc.Close()

	out := make([]byte, 1, 1+len(data)/2+64)
	out[0] = MagicZstd
	out = enc.EncodeAll(data, out)

	return out, nil
}

func (c *zstdCodec) Decompress(blob []byte) ([]byte, error) {
	if len(blob) < 1 {
		return nil, fmt.Errorf("zstd decompress: envelope too short")
	}

	frame := blob[1:]
	if len(frame) == 0 {
		return []byte{}, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: build decoder: %w", err)
	}
	defer dec.Close()

	var hint []byte
	if c.ctx == ContextMigration {
		hint = make([]byte, 0, migrationDecodeFallback)
	}

	out, err := dec.DecodeAll(frame, hint)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}

	return out, nil
}
