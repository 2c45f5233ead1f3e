package mca

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	w, err := Create(path)
	require.NoError(t, err)

	payload := []byte{0x0A, 'h', 'i', 'n', 'b', 't'}
	require.NoError(t, w.WriteChunk(3, 5, payload, CompressionZlib, 1234))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	has, err := r.HasChunk(3, 5)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = r.HasChunk(6, 6)
	require.NoError(t, err)
	assert.False(t, has)

	stamp, err := r.Timestamp(3, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), stamp)

	got, compression, err := r.ChunkRaw(3, 5)
	require.NoError(t, err)
	assert.Equal(t, CompressionZlib, compression)
	assert.Equal(t, payload, got)
}

func TestAllSlotsReportsOnlyOccupied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(1, 1, []byte{0x01}, CompressionGZip, 1))
	require.NoError(t, w.WriteChunk(2, 2, []byte{0x02}, CompressionGZip, 2))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	slots := r.AllSlots()
	assert.Len(t, slots, 2)
	assert.Contains(t, slots, [2]int32{1, 1})
	assert.Contains(t, slots, [2]int32{2, 2})
}

func TestChunkRawOutOfRangeLocalCoordinate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.ChunkRaw(32, 0)
	require.Error(t, err)
}

func TestChunkRawAbsentSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.ChunkRaw(0, 0)
	require.Error(t, err)
}

func TestDecompressRejectsUnsupportedID(t *testing.T) {
	t.Run("unsupported id", func(t *testing.T) {
		_, err := Decompress([]byte{0x00}, 99)
		require.Error(t, err)
	})
}

func TestWriteChunkRejectsOversizedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	w, err := Create(path)
	require.NoError(t, err)
	defer w.Close()

	// 256 sectors' worth of payload overflows the single-byte sector
	// count field.
	oversized := make([]byte, 256*SectorSize)

	err = w.WriteChunk(0, 0, oversized, CompressionZlib, 1)
	var tooLarge ErrChunkTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestRewritingChunkReallocatesSectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	w, err := Create(path)
	require.NoError(t, err)

	small := []byte{0x01, 0x02}
	require.NoError(t, w.WriteChunk(0, 0, small, CompressionZlib, 1))

	big := make([]byte, SectorSize*2)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, w.WriteChunk(0, 0, big, CompressionZlib, 2))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, compression, err := r.ChunkRaw(0, 0)
	require.NoError(t, err)
	assert.Equal(t, CompressionZlib, compression)
	assert.Equal(t, big, got)
}
