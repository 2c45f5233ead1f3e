package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// zlibCodec implements Codec for zlib-wrapped deflate envelopes:
// [magic:1][orig_size:u32be][payload]. Neither pierrec/lz4 nor
// klauspost/compress implement RFC1950 zlib framing, so this codec
// wraps compress/zlib directly.
type zlibCodec struct {
	level int
}

// NewZlib returns a zlib codec with level clamped into [1, 9].
func NewZlib(level int, ctx Context) Codec {
	clamped, _ := ClampLevel(Zlib, level, ctx)
	return &zlibCodec{level: clamped}
}

func (c *zlibCodec) Name() string { return "zlib" }
func (c *zlibCodec) Magic() byte  { return MagicZlib }
func (c *zlibCodec) Level() int   { return c.level }

func (c *zlibCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return emptyEnvelope(MagicZlib), nil
	}

	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("zlib compress: build writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: flush: %w", err)
	}

	out := make([]byte, 1+headerSize+buf.Len())
	out[0] = MagicZlib
	binary.BigEndian.PutUint32(out[1:1+headerSize], uint32(len(data)))
	copy(out[1+headerSize:], buf.Bytes())

	return out, nil
}

func (c *zlibCodec) Decompress(blob []byte) ([]byte, error) {
	if len(blob) < 1+headerSize {
		return nil, fmt.Errorf("zlib decompress: envelope too short (%d bytes)", len(blob))
	}

	origSize := binary.BigEndian.Uint32(blob[1 : 1+headerSize])
	if origSize == 0 {
		return []byte{}, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(blob[1+headerSize:]))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: build reader: %w", err)
	}
	defer r.Close()

	out := make([]byte, origSize)

	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}

	return out, nil
}
