package region

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pyroclast-games/chunkengine/pkg/region/lrf"
	"github.com/pyroclast-games/chunkengine/pkg/region/mca"
	"github.com/rs/zerolog"
)

// QuarantineMarker is the sidecar record a ConversionRecoveryManager
// writes next to a file whose corruption detection failed. A
// quarantined file is skipped by every automatic migration policy until
// cleared; only Manual mode or an explicit CLI convert may touch it
// again, and doing so successfully clears the marker.
type QuarantineMarker struct {
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func quarantinePath(regionPath string) string {
	return regionPath + ".quarantine"
}

// IsQuarantined reports whether regionPath currently carries a
// quarantine marker.
func IsQuarantined(regionPath string) bool {
	_, err := os.Stat(quarantinePath(regionPath))
	return err == nil
}

// ConversionRecoveryManager provides optional backup-before-migrate,
// post-write format re-detection, and MCA rollback.
type ConversionRecoveryManager struct {
	converter *RegionConverter
	log       zerolog.Logger

	// migrated tracks region coordinates (the low 16 bits of rx and rz
	// packed into one uint32, see regionKey) already migrated this
	// process, per world.
	// A world's region space is sparse at scale, so a roaring bitmap
	// beats a plain set for the steady-state membership tracking this
	// manager exists to do.
	mu       sync.Mutex
	migrated map[string]*roaring.Bitmap

	recoveries atomic.Int64
	rollbacks  atomic.Int64
}

// NewConversionRecoveryManager builds a recovery manager around converter.
func NewConversionRecoveryManager(converter *RegionConverter, log zerolog.Logger) *ConversionRecoveryManager {
	return &ConversionRecoveryManager{
		converter: converter,
		log:       log.With().Str("component", "conversion_recovery").Logger(),
		migrated:  make(map[string]*roaring.Bitmap),
	}
}

// MarkMigrated records that (rx, rz) in world has been migrated, for
// idle/background-cue collaborators that poll progress.
func (m *ConversionRecoveryManager) MarkMigrated(world string, rx, rz int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bm, ok := m.migrated[world]
	if !ok {
		bm = roaring.New()
		m.migrated[world] = bm
	}

	bm.Add(regionKey(rx, rz))
}

// IsMigrated reports whether (rx, rz) in world was already migrated.
func (m *ConversionRecoveryManager) IsMigrated(world string, rx, rz int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bm, ok := m.migrated[world]
	if !ok {
		return false
	}

	return bm.Contains(regionKey(rx, rz))
}

// MigratedCount returns how many regions have been migrated in world.
func (m *ConversionRecoveryManager) MigratedCount(world string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	bm, ok := m.migrated[world]
	if !ok {
		return 0
	}

	return bm.GetCardinality()
}

func regionKey(rx, rz int32) uint32 {
	// Regions fit comfortably in 16 bits each for any realistically sized
	// world; pack into one roaring-addressable uint32.
	return uint32(uint16(rx))<<16 | uint32(uint16(rz))
}

// Backup copies src into a timestamped sibling directory next to it,
// returning the backup path.
func (m *ConversionRecoveryManager) Backup(src string) (string, error) {
	dir := filepath.Dir(src)
	backupDir := filepath.Join(dir, fmt.Sprintf("backup-%d", time.Now().UnixNano()))

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("recovery: create backup dir: %w", err)
	}

	dst := filepath.Join(backupDir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("recovery: open source for backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("recovery: create backup file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("recovery: copy backup: %w", err)
	}

	return dst, nil
}

// VerifyWritten re-detects the format of the freshly written file and
// confirms it opens and parses cleanly; the original is never
// considered for deletion before this passes.
func (m *ConversionRecoveryManager) VerifyWritten(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recovery: stat written file: %w", err)
	}

	if info.Size() == 0 {
		return fmt.Errorf("recovery: written file %s is empty", path)
	}

	if DetectFormat(path) == FormatUnknown {
		return fmt.Errorf("recovery: written file %s has unrecognized extension", path)
	}

	if DetectFormat(path) == FormatLRF {
		r, err := lrf.Open(path)
		if err != nil {
			return fmt.Errorf("recovery: written file %s does not parse: %w", path, err)
		}
		return r.Close()
	}

	r, err := mca.Open(path)
	if err != nil {
		return fmt.Errorf("recovery: written file %s does not parse: %w", path, err)
	}
	return r.Close()
}

// Quarantine writes a marker next to path recording reason, refusing
// further automated migration of it.
func (m *ConversionRecoveryManager) Quarantine(path, reason string) error {
	marker := QuarantineMarker{Path: path, Reason: reason, Timestamp: time.Now()}

	b, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("recovery: marshal quarantine marker: %w", err)
	}

	if err := os.WriteFile(quarantinePath(path), b, 0o644); err != nil {
		return fmt.Errorf("recovery: write quarantine marker: %w", err)
	}

	m.log.Warn().Str("path", path).Str("reason", reason).Msg("region quarantined")

	return nil
}

// ClearQuarantine removes path's quarantine marker, if any.
func (m *ConversionRecoveryManager) ClearQuarantine(path string) error {
	err := os.Remove(quarantinePath(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recovery: clear quarantine marker: %w", err)
	}

	return nil
}

// RollbackToMCA reverses an LRF conversion, writing dir/<stem>.mca from
// lrfPath via the reverse converter. It increments the rollback counter
// on success.
func (m *ConversionRecoveryManager) RollbackToMCA(lrfPath, dir string) (string, error) {
	stem := filepathStem(lrfPath)
	dst := filepath.Join(dir, stem+".mca")

	if _, err := m.converter.ConvertFile(lrfPath, dst); err != nil {
		return "", fmt.Errorf("recovery: rollback %s: %w", lrfPath, err)
	}

	m.rollbacks.Add(1)
	m.log.Warn().Str("lrf", lrfPath).Str("mca", dst).Msg("rolled back lrf to mca")

	return dst, nil
}

// RecordRecovery increments the recovery counter; Migrator.MigrateRegion
// calls it when a freshly written LRF fails verification while a backup
// of the original exists.
func (m *ConversionRecoveryManager) RecordRecovery() {
	m.recoveries.Add(1)
}

// Counters returns (recoveries, rollbacks) performed so far.
func (m *ConversionRecoveryManager) Counters() (recoveries, rollbacks int64) {
	return m.recoveries.Load(), m.rollbacks.Load()
}

func filepathStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)

	return base[:len(base)-len(ext)]
}
