package core

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pyroclast-games/chunkengine/pkg/config"
	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/pyroclast-games/chunkengine/pkg/region/lrf"
	"github.com/pyroclast-games/chunkengine/pkg/region/mca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateFullLRFConvertsEveryRegion(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "full_lrf"
	cfg.Storage.BackupOriginal = false

	c := newTestCore(t, cfg, dirRegistry{dir: dir, ext: ".mca"}, nil)

	writeServiceMCA(t, c, filepath.Join(dir, "r.0.0.mca"), [2]int32{0, 0}, []byte{0x0A, 'a'})
	writeServiceMCA(t, c, filepath.Join(dir, "r.1.0.mca"), [2]int32{1, 1}, []byte{0x0A, 'b'})

	result, err := c.Migrator().Migrate(dir, region.FullLRF)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	for _, stem := range []string{"r.0.0", "r.1.0"} {
		_, err := os.Stat(filepath.Join(dir, stem+".lrf"))
		assert.NoError(t, err, "%s should have been migrated", stem)
		_, err = os.Stat(filepath.Join(dir, stem+".mca"))
		assert.NoError(t, err, "%s original must survive migration", stem)
	}
}

func TestMigrateManualIsNoop(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"

	c := newTestCore(t, cfg, dirRegistry{dir: dir, ext: ".mca"}, nil)

	writeServiceMCA(t, c, filepath.Join(dir, "r.0.0.mca"), [2]int32{0, 0}, []byte{0x0A, 'x'})

	result, err := c.Migrator().Migrate(dir, region.Manual)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)

	_, err = os.Stat(filepath.Join(dir, "r.0.0.lrf"))
	assert.True(t, os.IsNotExist(err))
}

func TestMigrateRegionSkipsCorruptChunkKeepsOriginal(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "on_demand"
	cfg.Storage.BackupOriginal = false

	c := newTestCore(t, cfg, dirRegistry{dir: dir, ext: ".mca"}, nil)

	mcaPath := filepath.Join(dir, "r.0.0.mca")

	good := []byte{0x0A, 'g', 'o', 'o', 'd'}
	goodBlob, err := c.codecSvc.Compress(good)
	require.NoError(t, err)

	bad := []byte{0x0A, 'b', 'a', 'd'}
	badBlob, err := c.codecSvc.Compress(bad)
	require.NoError(t, err)

	w, err := mca.Create(mcaPath)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(0, 0, goodBlob, mca.CompressionService, 1))
	require.NoError(t, w.WriteChunk(1, 0, badBlob, mca.CompressionService, 1))
	require.NoError(t, w.Close())

	// Corrupt the second chunk in place: its 4-byte big-endian length
	// header now declares a length overflowing its one-sector allocation.
	f, err := os.OpenFile(mcaPath, os.O_RDWR, 0)
	require.NoError(t, err)

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], 0x00FFFFFF)
	_, err = f.WriteAt(lenBytes[:], 3*mca.SectorSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lrfPath, err := c.Migrator().MigrateRegion(mcaPath)
	require.NoError(t, err, "a corrupt chunk is skipped, not fatal to the file")

	r, err := lrf.Open(lrfPath)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 1, r.Count(), "only the valid chunk survives")
	assert.True(t, r.HasChunk(0, 0))
	assert.False(t, r.HasChunk(1, 0))

	_, err = os.Stat(mcaPath)
	assert.NoError(t, err, "original mca stays in place with backup disabled")
}

func TestMigrateRegionRefusesQuarantinedFile(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "on_demand"

	c := newTestCore(t, cfg, dirRegistry{dir: dir, ext: ".mca"}, nil)

	mcaPath := filepath.Join(dir, "r.0.0.mca")
	writeServiceMCA(t, c, mcaPath, [2]int32{0, 0}, []byte{0x0A, 'q'})

	require.NoError(t, c.recovery.Quarantine(mcaPath, "test corruption record"))

	_, err := c.Migrator().MigrateRegion(mcaPath)
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "r.0.0.lrf"))
	assert.True(t, os.IsNotExist(err), "a quarantined region must not be migrated")
}

func TestMigrateRegionWithBackup(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "on_demand"
	cfg.Storage.BackupOriginal = true

	c := newTestCore(t, cfg, dirRegistry{dir: dir, ext: ".mca"}, nil)

	mcaPath := filepath.Join(dir, "r.0.0.mca")
	writeServiceMCA(t, c, mcaPath, [2]int32{0, 0}, []byte{0x0A, 'b', 'k'})

	_, err := c.Migrator().MigrateRegion(mcaPath)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	foundBackup := false
	for _, e := range entries {
		if e.IsDir() {
			backup, err := os.Stat(filepath.Join(dir, e.Name(), "r.0.0.mca"))
			if err == nil && backup.Size() > 0 {
				foundBackup = true
			}
		}
	}
	assert.True(t, foundBackup, "backup copy of the original should exist in a sibling directory")
}

func TestRollbackRecreatesMCA(t *testing.T) {
	dir := t.TempDir()
	rollbackDir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "on_demand"
	cfg.Storage.BackupOriginal = false

	c := newTestCore(t, cfg, dirRegistry{dir: dir, ext: ".mca"}, nil)

	payload := []byte{0x0A, 'r', 'b'}
	mcaPath := filepath.Join(dir, "r.0.0.mca")
	writeServiceMCA(t, c, mcaPath, [2]int32{4, 4}, payload)

	lrfPath, err := c.Migrator().MigrateRegion(mcaPath)
	require.NoError(t, err)

	restored, err := c.Migrator().Rollback(lrfPath, rollbackDir)
	require.NoError(t, err)

	r, err := mca.Open(restored)
	require.NoError(t, err)
	defer r.Close()

	raw, compression, err := r.ChunkRaw(4, 4)
	require.NoError(t, err)
	assert.Equal(t, mca.CompressionService, compression)

	got, err := c.codecSvc.Decompress(raw)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, rollbacks := c.recovery.Counters()
	assert.Equal(t, int64(1), rollbacks)
}
