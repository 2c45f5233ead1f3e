package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pyroclast-games/chunkengine/pkg/region"
)

// Migrator drives the MCA->LRF migration policies. It is backed by the same RegionConverter and ConversionRecoveryManager
// the CLI's convert/convert-dir verbs use.
type Migrator struct {
	c      *Core
	policy region.MigrationPolicy
}

// NewMigrator wires a migrator to policy. Collaborators normally get one
// through Core.Migrator() rather than constructing it directly.
func NewMigrator(c *Core, policy region.MigrationPolicy) *Migrator {
	return &Migrator{c: c, policy: policy}
}

// Policy returns the migrator's configured policy.
func (m *Migrator) Policy() region.MigrationPolicy { return m.policy }

// Migrate runs migration for worldDir under mode. Manual never migrates
// automatically and returns immediately with a zero result.
func (m *Migrator) Migrate(worldDir string, mode region.MigrationPolicy) (region.ConvertDirResult, error) {
	switch mode {
	case region.Manual:
		return region.ConvertDirResult{}, nil
	case region.FullLRF, region.Background:
		return m.migrateAll(worldDir)
	case region.OnDemand:
		// On-demand migration happens per-region as reads occur; a bulk
		// Migrate call under this policy is a deliberate no-op so a
		// collaborator can still invoke the CLI's explicit conversion
		// path without accidentally forcing every region up front.
		return region.ConvertDirResult{}, nil
	default:
		return region.ConvertDirResult{}, fmt.Errorf("migrator: unknown policy %v", mode)
	}
}

// MigrateRegion migrates the .mca region file at mcaPath to a sibling
// .lrf, honoring backup/recovery and quarantine, for the OnDemand
// policy's "migrate the first time it's read" behavior.
func (m *Migrator) MigrateRegion(mcaPath string) (string, error) {
	if region.IsQuarantined(mcaPath) {
		return "", fmt.Errorf("migrator: %s is quarantined, refusing automatic migration", mcaPath)
	}

	lrfPath := strings.TrimSuffix(mcaPath, filepath.Ext(mcaPath)) + ".lrf"

	var backupPath string
	if m.c.cfg.Storage.BackupOriginal {
		bp, err := m.c.recovery.Backup(mcaPath)
		if err != nil {
			return "", fmt.Errorf("migrator: backup %s: %w", mcaPath, err)
		}
		backupPath = bp
	}

	result, err := m.c.converter.ConvertFile(mcaPath, lrfPath)
	if err != nil {
		if qerr := m.c.recovery.Quarantine(mcaPath, err.Error()); qerr != nil {
			m.c.log.Error().Err(qerr).Str("path", mcaPath).Msg("failed to write quarantine marker")
		}

		return "", fmt.Errorf("migrator: convert %s: %w", mcaPath, err)
	}

	if err := m.c.recovery.VerifyWritten(lrfPath); err != nil {
		if backupPath == "" {
			// No backup to fall back to: leave the original MCA in
			// place untouched and quarantine rather than delete
			// anything. The original is never removed before a freshly
			// written LRF has been verified.
			_ = os.Remove(lrfPath)
			_ = m.c.recovery.Quarantine(mcaPath, err.Error())

			return "", fmt.Errorf("migrator: verify %s: %w", lrfPath, err)
		}

		m.c.recovery.RecordRecovery()

		return "", fmt.Errorf("migrator: verify %s (backup preserved at %s): %w", lrfPath, backupPath, err)
	}

	if len(result.Skipped) > 0 {
		m.c.log.Warn().Str("path", mcaPath).Int("skipped", len(result.Skipped)).Msg("migration completed with skipped chunks")
	}

	return lrfPath, nil
}

func (m *Migrator) migrateAll(worldDir string) (region.ConvertDirResult, error) {
	entries, err := os.ReadDir(worldDir)
	if err != nil {
		return region.ConvertDirResult{}, fmt.Errorf("migrator: read %s: %w", worldDir, err)
	}

	result := region.ConvertDirResult{Failures: make(map[string]error)}

	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".mca" {
			continue
		}

		path := filepath.Join(worldDir, e.Name())

		if _, err := m.MigrateRegion(path); err != nil {
			result.Failed++
			result.Failures[e.Name()] = err
			continue
		}

		result.Succeeded++
	}

	return result, nil
}

// Rollback reverses a migrated region back to MCA.
func (m *Migrator) Rollback(lrfPath, dir string) (string, error) {
	return m.c.recovery.RollbackToMCA(lrfPath, dir)
}
