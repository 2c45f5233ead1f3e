package main

import (
	"fmt"

	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newConvertDirCommand(log zerolog.Logger) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "convert-dir <src_dir> <dst_dir>",
		Short: "Convert every region file in src_dir into dst_dir under --to's format",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcDir, dstDir := args[0], args[1]

			var dstFmt region.Format
			switch to {
			case "lrf":
				dstFmt = region.FormatLRF
			case "mca":
				dstFmt = region.FormatMCA
			default:
				return newCLIError(exitInvalidArgs, fmt.Errorf("convert-dir: --to must be lrf or mca, got %q", to))
			}

			srcFmt := region.FormatMCA
			if dstFmt == region.FormatMCA {
				srcFmt = region.FormatLRF
			}

			svc, err := defaultCodecService(log)
			if err != nil {
				return newCLIError(exitIOError, err)
			}

			converter := region.NewRegionConverter(svc, log)

			result, err := converter.ConvertDir(srcDir, dstDir, srcFmt, dstFmt)
			if err != nil {
				return newCLIError(exitIOError, err)
			}

			fmt.Printf("%d succeeded, %d failed\n", result.Succeeded, result.Failed)

			for name, ferr := range result.Failures {
				fmt.Printf("  %s: %v\n", name, ferr)
			}

			if result.Failed > 0 {
				return newCLIError(exitValidationFailed, fmt.Errorf("convert-dir: %d file(s) failed", result.Failed))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "target format: lrf or mca (required)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
