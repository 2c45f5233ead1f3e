package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pyroclast-games/chunkengine/pkg/codec"
	"github.com/pyroclast-games/chunkengine/pkg/region/lrf"
	"github.com/pyroclast-games/chunkengine/pkg/region/mca"
	"github.com/rs/zerolog"
)

// Format is a region file format detected from its extension.
type Format int

const (
	FormatUnknown Format = iota
	FormatLRF
	FormatMCA
)

// DetectFormat maps a file extension onto a Format.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lrf":
		return FormatLRF
	case ".mca":
		return FormatMCA
	default:
		return FormatUnknown
	}
}

// ErrSameFormat is returned when src and dst detect to the same format.
var ErrSameFormat = errors.New("region: source and target format are identical")

// ConvertResult summarizes one file conversion.
type ConvertResult struct {
	Converted int
	Skipped   []ValidationIssue
}

// RegionConverter bridges the LRF and MCA readers/writers through the
// codec service, validating every chunk it moves.
type RegionConverter struct {
	svc *codec.Service
	log zerolog.Logger
}

// NewRegionConverter builds a converter around a compression service.
func NewRegionConverter(svc *codec.Service, log zerolog.Logger) *RegionConverter {
	return &RegionConverter{svc: svc, log: log.With().Str("component", "region_converter").Logger()}
}

// ConvertFile converts src to dst, detecting formats from their
// extensions. It refuses a same-format conversion.
func (c *RegionConverter) ConvertFile(src, dst string) (ConvertResult, error) {
	srcFmt, dstFmt := DetectFormat(src), DetectFormat(dst)

	if srcFmt == FormatUnknown || dstFmt == FormatUnknown {
		return ConvertResult{}, fmt.Errorf("region: cannot detect format for %s -> %s", src, dst)
	}

	if srcFmt == dstFmt {
		return ConvertResult{}, ErrSameFormat
	}

	switch {
	case srcFmt == FormatMCA && dstFmt == FormatLRF:
		return c.mcaToLRF(src, dst)
	case srcFmt == FormatLRF && dstFmt == FormatMCA:
		return c.lrfToMCA(src, dst)
	default:
		return ConvertResult{}, fmt.Errorf("region: unsupported conversion %v -> %v", srcFmt, dstFmt)
	}
}

func (c *RegionConverter) mcaToLRF(src, dst string) (ConvertResult, error) {
	r, err := mca.Open(src)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("region: open mca %s: %w", src, err)
	}
	defer r.Close()

	w, err := lrf.NewWriter(dst, c.svc.Primary().Magic(), true)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("region: create lrf %s: %w", dst, err)
	}

	validator := NewChunkDataValidator(c.log)
	result := ConvertResult{}

	for _, slot := range r.AllSlots() {
		lx, lz := slot[0], slot[1]

		raw, compression, err := r.ChunkRaw(lx, lz)
		if err != nil {
			result.Skipped = append(result.Skipped, ValidationIssue{ChunkX: lx, ChunkZ: lz, Reason: err.Error(), Fatal: true})
			continue
		}

		payload, err := decodeMCAPayload(raw, compression, c.svc)
		if err != nil {
			result.Skipped = append(result.Skipped, ValidationIssue{ChunkX: lx, ChunkZ: lz, Reason: err.Error(), Fatal: true})
			continue
		}

		if issue := validator.Validate(lx, lz, payload); issue != nil {
			c.log.Warn().Int32("cx", lx).Int32("cz", lz).Str("reason", issue.Reason).Msg("skipping chunk during mca->lrf conversion")
			result.Skipped = append(result.Skipped, *issue)
			continue
		}

		blob, err := c.svc.Compress(payload)
		if err != nil {
			result.Skipped = append(result.Skipped, ValidationIssue{ChunkX: lx, ChunkZ: lz, Reason: err.Error(), Fatal: true})
			continue
		}

		if err := w.Add(lx, lz, blob, uint32(len(payload))); err != nil {
			_ = w.Close()
			return ConvertResult{}, fmt.Errorf("region: write lrf chunk (%d,%d): %w", lx, lz, err)
		}

		result.Converted++
	}

	if err := w.Close(); err != nil {
		return ConvertResult{}, fmt.Errorf("region: finalize lrf %s: %w", dst, err)
	}

	return result, nil
}

func (c *RegionConverter) lrfToMCA(src, dst string) (ConvertResult, error) {
	r, err := lrf.Open(src)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("region: open lrf %s: %w", src, err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		return ConvertResult{}, fmt.Errorf("region: read lrf %s: %w", src, err)
	}

	w, err := mca.Create(dst)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("region: create mca %s: %w", dst, err)
	}

	validator := NewChunkDataValidator(c.log)
	result := ConvertResult{}

	for _, e := range entries {
		payload, err := c.svc.Decompress(e.Payload)
		if err != nil {
			result.Skipped = append(result.Skipped, ValidationIssue{ChunkX: e.ChunkX, ChunkZ: e.ChunkZ, Reason: err.Error(), Fatal: true})
			continue
		}

		if issue := validator.Validate(e.ChunkX, e.ChunkZ, payload); issue != nil {
			result.Skipped = append(result.Skipped, *issue)
			continue
		}

		lx, lz := uint32(e.ChunkX)&31, uint32(e.ChunkZ)&31

		if err := w.WriteChunk(int32(lx), int32(lz), e.Payload, mca.CompressionService, 0); err != nil {
			_ = w.Close()
			return ConvertResult{}, fmt.Errorf("region: write mca chunk (%d,%d): %w", e.ChunkX, e.ChunkZ, err)
		}

		result.Converted++
	}

	if err := w.Close(); err != nil {
		return ConvertResult{}, fmt.Errorf("region: finalize mca %s: %w", dst, err)
	}

	return result, nil
}

// decodeMCAPayload inflates a raw MCA chunk payload, routing
// vendor-extension (codec service) payloads through svc and legacy
// GZip/Zlib payloads through mca.Decompress.
func decodeMCAPayload(raw []byte, compression byte, svc *codec.Service) ([]byte, error) {
	if compression == mca.CompressionService {
		return svc.Decompress(raw)
	}

	return mca.Decompress(raw, compression)
}

// ConvertDirResult aggregates per-file outcomes for a directory
// conversion, backing the "N succeeded, M failed" user-visible summary.
type ConvertDirResult struct {
	Succeeded int
	Failed    int
	Failures  map[string]error
}

// ConvertDir converts every file in srcDir matching srcFmt into dstDir
// under dstFmt, preserving file stems.
func (c *RegionConverter) ConvertDir(srcDir, dstDir string, srcFmt, dstFmt Format) (ConvertDirResult, error) {
	if srcFmt == dstFmt {
		return ConvertDirResult{}, ErrSameFormat
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return ConvertDirResult{}, fmt.Errorf("region: read dir %s: %w", srcDir, err)
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return ConvertDirResult{}, fmt.Errorf("region: create dir %s: %w", dstDir, err)
	}

	result := ConvertDirResult{Failures: make(map[string]error)}
	srcExt, dstExt := extFor(srcFmt), extFor(dstFmt)

	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != srcExt {
			continue
		}

		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		src := filepath.Join(srcDir, e.Name())
		dst := filepath.Join(dstDir, stem+dstExt)

		if _, err := c.ConvertFile(src, dst); err != nil {
			result.Failed++
			result.Failures[e.Name()] = err
			c.log.Error().Err(err).Str("file", e.Name()).Msg("region conversion failed")
			continue
		}

		result.Succeeded++
	}

	return result, nil
}

func extFor(f Format) string {
	switch f {
	case FormatLRF:
		return ".lrf"
	case FormatMCA:
		return ".mca"
	default:
		return ""
	}
}
