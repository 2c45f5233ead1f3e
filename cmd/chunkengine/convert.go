package main

import (
	"fmt"

	"github.com/pyroclast-games/chunkengine/pkg/codec"
	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newConvertCommand(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <src> <dst>",
		Short: "Convert a single region file between LRF and MCA, detected from its extension",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]

			svc, err := defaultCodecService(log)
			if err != nil {
				return newCLIError(exitIOError, err)
			}

			converter := region.NewRegionConverter(svc, log)

			result, err := converter.ConvertFile(src, dst)
			if err != nil {
				return newCLIError(exitIOError, err)
			}

			fmt.Printf("converted %d chunks, skipped %d\n", result.Converted, len(result.Skipped))

			for _, issue := range result.Skipped {
				fmt.Printf("  skipped (%d,%d): %s\n", issue.ChunkX, issue.ChunkZ, issue.Reason)
			}

			if len(result.Skipped) > 0 {
				return newCLIError(exitValidationFailed, fmt.Errorf("convert: %d chunk(s) failed validation", len(result.Skipped)))
			}

			if err := region.NewConversionRecoveryManager(converter, log).ClearQuarantine(src); err != nil {
				return newCLIError(exitIOError, err)
			}

			return nil
		},
	}
}

// defaultCodecService builds the codec service CLI commands use when
// operating outside a running Core: Zstd primary with a Zlib fallback,
// matching config.Default's compression defaults.
func defaultCodecService(log zerolog.Logger) (*codec.Service, error) {
	primary := codec.NewZstd(3, codec.ContextMigration)
	fallback := codec.NewZlib(6, codec.ContextMigration)

	registry, err := codec.NewDefault(codec.ContextMigration)
	if err != nil {
		return nil, fmt.Errorf("build codec registry: %w", err)
	}

	return codec.NewService(primary, fallback, registry, true, codec.ContextMigration, log), nil
}
