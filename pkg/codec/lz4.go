package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// headerSize is the width of the big-endian original-size header that
// follows the magic byte for the LZ4 and Zlib envelopes.
const headerSize = 4

// lz4StoredLiteral is set on the size header when the payload holds the
// original bytes verbatim. pierrec/lz4 reports n == 0 for input its
// block format cannot shrink, so incompressible chunks are stored
// rather than failed. The flag bit is free: chunk payloads are capped
// far below 2 GiB.
const lz4StoredLiteral = 1 << 31

// lz4Codec implements Codec for LZ4-compressed envelopes:
// [magic:1][orig_size:u32be][payload]. It holds no shared mutable state;
// the block-level hash table pierrec/lz4 needs is allocated per call
// rather than held in a shared global.
type lz4Codec struct {
	level int
}

// NewLZ4 returns an LZ4 codec with level clamped into [1, 17] for ctx.
func NewLZ4(level int, ctx Context) Codec {
	clamped, _ := ClampLevel(LZ4, level, ctx)
	return &lz4Codec{level: clamped}
}

func (c *lz4Codec) Name() string { return "lz4" }
func (c *lz4Codec) Magic() byte  { return MagicLZ4 }
func (c *lz4Codec) Level() int   { return c.level }

func (c *lz4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return emptyEnvelope(MagicLZ4), nil
	}

	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, headerSize+bound)

	var compressor lz4.CompressorHC
	compressor.Level = lz4.CompressionLevel(c.level)

	n, err := compressor.CompressBlock(data, dst[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// Incompressible input: n == 0 means no block was produced at all,
	// so store the original bytes verbatim under the literal flag.
	if n == 0 {
		out := make([]byte, 1+headerSize+len(data))
		out[0] = MagicLZ4
		binary.BigEndian.PutUint32(out[1:1+headerSize], uint32(len(data))|lz4StoredLiteral)
		copy(out[1+headerSize:], data)

		return out, nil
	}

	out := make([]byte, 1+headerSize+n)
	out[0] = MagicLZ4
	binary.BigEndian.PutUint32(out[1:1+headerSize], uint32(len(data)))
	copy(out[1+headerSize:], dst[headerSize:headerSize+n])

	return out, nil
}

func (c *lz4Codec) Decompress(blob []byte) ([]byte, error) {
	if len(blob) < 1+headerSize {
		return nil, fmt.Errorf("lz4 decompress: envelope too short (%d bytes)", len(blob))
	}

	header := binary.BigEndian.Uint32(blob[1 : 1+headerSize])

	if header&lz4StoredLiteral != 0 {
		origSize := header &^ uint32(lz4StoredLiteral)
		payload := blob[1+headerSize:]
		if uint32(len(payload)) != origSize {
			return nil, fmt.Errorf("lz4 decompress: stored literal declares %d bytes, has %d", origSize, len(payload))
		}

		out := make([]byte, origSize)
		copy(out, payload)

		return out, nil
	}

	origSize := header
	if origSize == 0 {
		return []byte{}, nil
	}

	dst := make([]byte, origSize)

	n, err := lz4.UncompressBlock(blob[1+headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}

	return dst[:n], nil
}

// emptyEnvelope returns the canonical envelope for an empty input: magic
// byte followed by a four-byte zero original-size header and no payload.
func emptyEnvelope(magic byte) []byte {
	return []byte{magic, 0, 0, 0, 0}
}
