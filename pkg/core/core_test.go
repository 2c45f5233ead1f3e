package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pyroclast-games/chunkengine/pkg/config"
	"github.com/pyroclast-games/chunkengine/pkg/governor"
	"github.com/pyroclast-games/chunkengine/pkg/queue"
	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/pyroclast-games/chunkengine/pkg/region/lrf"
	"github.com/pyroclast-games/chunkengine/pkg/region/mca"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dirRegistry maps every world onto one flat directory of region files
// with a fixed extension, the minimal WorldRegistry a test needs.
type dirRegistry struct {
	dir string
	ext string
}

func (r dirRegistry) RegionPath(worldID string, rx, rz int32) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s.r.%d.%d%s", worldID, rx, rz, r.ext))
}

func newTestCore(t *testing.T, cfg config.Config, world WorldRegistry, health governor.HealthProvider) *Core {
	t.Helper()

	hardware := governor.StaticHardwareProvider{Prof: governor.HardwareProfile{
		Cores: 8, MaxBytes: 16 << 30, OSTag: "linux", Tier: governor.HighEnd,
	}}

	c, err := New(cfg, world, nil, health, hardware, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	return c
}

// writeServiceMCA writes one chunk into a fresh MCA file at path,
// compressed through c's codec service and tagged with the vendor
// extension id, the way a previously chunkengine-managed region looks.
func writeServiceMCA(t *testing.T, c *Core, path string, local [2]int32, payload []byte) {
	t.Helper()

	blob, err := c.codecSvc.Compress(payload)
	require.NoError(t, err)

	w, err := mca.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(local[0], local[1], blob, mca.CompressionService, 1))
	require.NoError(t, w.Close())
}

func TestCoreSaveThenLoadRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"

	world := dirRegistry{dir: t.TempDir(), ext: ".lrf"}
	c := newTestCore(t, cfg, world, nil)

	payload := []byte{0x0A, 'r', 'o', 'u', 'n', 'd'}

	_, err := c.Storage().Save("overworld", region.ChunkEntry{ChunkX: 5, ChunkZ: 9, Payload: payload}).Wait()
	require.NoError(t, err)

	got, err := c.Storage().Load("overworld", 5, 9).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
}

func TestCoreRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Compression.Algorithm = "snappy"

	_, err := New(cfg, dirRegistry{dir: t.TempDir(), ext: ".lrf"}, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestCoreAppliesPoolOverridesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"
	cfg.Storage.Pools = config.CachePools{Load: "3", Write: "auto", Compress: "auto", Decompress: "7"}

	c := newTestCore(t, cfg, dirRegistry{dir: t.TempDir(), ext: ".lrf"}, nil)

	load, _, _, decompress := c.storage.PoolTargets()
	assert.Equal(t, 3, load)
	assert.Equal(t, 7, decompress)
}

func TestQueueFacadeDeduplicatesSubmissions(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"

	c := newTestCore(t, cfg, dirRegistry{dir: t.TempDir(), ext: ".lrf"}, nil)

	t1, err := c.Queue().Submit(queue.PriorityLoad, "w", 3, 4)
	require.NoError(t, err)
	t2, err := c.Queue().Submit(queue.PriorityLoad, "w", 3, 4)
	require.NoError(t, err)

	require.Same(t, t1, t2)

	got, err := c.Queue().NextTask()
	require.NoError(t, err)
	c.Queue().CompleteTask(got, true, nil)

	assert.Equal(t, queue.Completed, t1.Wait().State)
	assert.Equal(t, queue.Completed, t2.Wait().State)
}

func TestGovernorCriticalClampsRadiusAndRefusesPrefetch(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"

	critical := governor.StaticHealthProvider{Snap: governor.HealthSnapshot{MSPT: 120, TPS: 9}}
	c := newTestCore(t, cfg, dirRegistry{dir: t.TempDir(), ext: ".lrf"}, critical)

	assert.Equal(t, 8, c.Governor().EffectivePrefetchRadius(64))

	refused, err := c.Queue().Submit(queue.HyperViewPrefetch, "w", 100, 100)
	require.NoError(t, err)
	assert.Equal(t, queue.Cancelled, refused.Wait().State)
}

func TestOnDemandMigrationOnFirstLoad(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "on_demand"
	cfg.Storage.BackupOriginal = false

	world := dirRegistry{dir: dir, ext: ".mca"}
	c := newTestCore(t, cfg, world, nil)

	payload := []byte{0x0A, 'o', 'n', 'd', 'e', 'm', 'a', 'n', 'd'}
	mcaPath := world.RegionPath("overworld", 0, 0)
	writeServiceMCA(t, c, mcaPath, [2]int32{1, 1}, payload)

	got, err := c.Storage().Load("overworld", 1, 1).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)

	// The first read migrated the region; the original is left in place.
	lrfPath := filepath.Join(dir, "overworld.r.0.0.lrf")
	_, err = os.Stat(lrfPath)
	assert.NoError(t, err, "on-demand load should have produced an lrf sibling")

	_, err = os.Stat(mcaPath)
	assert.NoError(t, err, "original mca must never be deleted by migration")

	assert.True(t, c.recovery.IsMigrated("overworld", 0, 0))
}

func TestLoadPrefersMigratedLRFSibling(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"

	world := dirRegistry{dir: dir, ext: ".mca"}
	c := newTestCore(t, cfg, world, nil)

	// Only the .lrf sibling exists; the registry still hands out .mca paths.
	payload := []byte{0x0A, 's', 'i', 'b'}
	blob, err := c.codecSvc.Compress(payload)
	require.NoError(t, err)

	w, err := lrf.NewWriter(filepath.Join(dir, "overworld.r.0.0.lrf"), c.codecSvc.Primary().Magic(), false)
	require.NoError(t, err)
	require.NoError(t, w.Add(2, 2, blob, uint32(len(payload))))
	require.NoError(t, w.Close())

	got, err := c.Storage().Load("overworld", 2, 2).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
}

func TestManualPolicyNeverMigratesOnLoad(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.ConversionMode = "manual"

	world := dirRegistry{dir: dir, ext: ".mca"}
	c := newTestCore(t, cfg, world, nil)

	payload := []byte{0x0A, 'm', 'a', 'n'}
	mcaPath := world.RegionPath("overworld", 0, 0)
	writeServiceMCA(t, c, mcaPath, [2]int32{3, 3}, payload)

	got, err := c.Storage().Load("overworld", 3, 3).Wait()
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)

	_, err = os.Stat(filepath.Join(dir, "overworld.r.0.0.lrf"))
	assert.True(t, os.IsNotExist(err), "manual policy must not migrate as a side effect of a read")
}
