package main

import (
	"fmt"

	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/pyroclast-games/chunkengine/pkg/region/lrf"
	"github.com/pyroclast-games/chunkengine/pkg/region/mca"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newStatsCommand(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <path>",
		Short: "Print chunk count and codec/compression info for a region file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			switch region.DetectFormat(path) {
			case region.FormatLRF:
				return statsLRF(path)
			case region.FormatMCA:
				return statsMCA(path)
			default:
				return newCLIError(exitInvalidArgs, fmt.Errorf("stats: cannot detect format for %s (expected .lrf or .mca)", path))
			}
		},
	}
}

func statsLRF(path string) error {
	r, err := lrf.Open(path)
	if err != nil {
		return newCLIError(exitIOError, err)
	}
	defer r.Close()

	fmt.Printf("format: lrf\n")
	fmt.Printf("chunks: %d\n", r.Count())
	fmt.Printf("compression magic: 0x%02X\n", r.CompressionID())

	return nil
}

func statsMCA(path string) error {
	r, err := mca.Open(path)
	if err != nil {
		return newCLIError(exitIOError, err)
	}
	defer r.Close()

	slots := r.AllSlots()

	counts := map[byte]int{}
	for _, s := range slots {
		_, compression, err := r.ChunkRaw(s[0], s[1])
		if err != nil {
			continue
		}
		counts[compression]++
	}

	fmt.Printf("format: mca\n")
	fmt.Printf("chunks: %d\n", len(slots))

	for id, n := range counts {
		fmt.Printf("compression id %d: %d chunk(s)\n", id, n)
	}

	return nil
}
