// Command chunkengine is the thin CLI surface over the chunk storage
// engine core: offline region conversion, stats, and governor-mode
// inspection.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit codes: success, invalid arguments, I/O failure, validation
// failure.
const (
	exitOK               = 0
	exitInvalidArgs      = 2
	exitIOError          = 3
	exitValidationFailed = 4
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:           "chunkengine",
		Short:         "Linear Region Format storage engine: convert, inspect, and tune",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newCLIError(exitInvalidArgs, err)
	})

	rootCmd.AddCommand(
		newConvertCommand(log),
		newConvertDirCommand(log),
		newStatsCommand(log),
		newGovernorModeCommand(log),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// cliError carries an explicit exit code alongside the error message,
// so subcommands can distinguish invalid-args / I/O / validation
// failures.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func newCLIError(code int, err error) error {
	return &cliError{code: code, err: err}
}

// exactArgs wraps cobra.ExactArgs so an argument-count failure carries
// the invalid-arguments exit code instead of falling through to the
// generic one.
func exactArgs(n int) cobra.PositionalArgs {
	inner := cobra.ExactArgs(n)

	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			return newCLIError(exitInvalidArgs, err)
		}

		return nil
	}
}

func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}

	// Every RunE wraps its own errors; anything unwrapped escaped from
	// cobra's command/flag handling (unknown subcommand, missing
	// required flag), which is a usage error.
	return exitInvalidArgs
}
