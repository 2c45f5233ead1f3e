package main

import (
	"fmt"

	"github.com/pyroclast-games/chunkengine/pkg/governor"
	"github.com/pyroclast-games/chunkengine/pkg/queue"
	"github.com/pyroclast-games/chunkengine/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newGovernorModeCommand(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "governor-mode {conservative|balanced|aggressive|adaptive}",
		Short: "Report the pool and concurrency sizing this host's hardware profile would get under a mode",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := governor.ParseAdjustmentMode(args[0])
			if !ok {
				return newCLIError(exitInvalidArgs, fmt.Errorf("governor-mode: unknown mode %q", args[0]))
			}

			profile := governor.DetectHardwareProfile()
			health := governor.StaticHealthProvider{Snap: governor.HealthSnapshot{MSPT: 45, TPS: 20}}
			hardware := governor.StaticHardwareProvider{Prof: profile}

			svc, err := defaultCodecService(log)
			if err != nil {
				return newCLIError(exitIOError, err)
			}

			mgr := storage.NewManager(svc, storage.NewDisabledCache(), 1, 1, 1, 1, log)
			q := queue.New(16, log)
			gov := governor.New(health, hardware, mgr, q, mode, log)
			gov.AdjustNow()

			load, write, compress, decompress := mgr.PoolTargets()

			fmt.Printf("tier: %v\n", profile.Tier)
			fmt.Printf("cores: %d\n", profile.Cores)
			fmt.Printf("mode: %v\n", gov.Mode())
			fmt.Printf("pools: load=%d write=%d compress=%d decompress=%d\n", load, write, compress, decompress)
			fmt.Printf("effective prefetch radius (requested 8): %d\n", gov.EffectivePrefetchRadius(8))

			return nil
		},
	}
}
