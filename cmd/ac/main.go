// Command ac is the always-coder CLI: it logs in, manages local
// configuration, and starts/attaches/lists/inspects/deletes PTY
// sessions bridged through the relay (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tyyzqmf/always-coder-sub001/internal/logger"
)

// Exit codes (spec.md §6).
const (
	exitOK               = 0
	exitGenericError      = 1
	exitUsage             = 2
	exitAuthRequired      = 3
	exitServerUnreachable = 4
	exitSessionNotFound   = 5
	exitPTYNonZero        = 6
)

var version = "dev"

func main() {
	if err := logger.Init("info", ""); err != nil {
		fmt.Fprintln(os.Stderr, "ac: failed to initialize logger:", err)
		os.Exit(exitGenericError)
	}

	root := &cobra.Command{
		Use:     "ac",
		Short:   "always-coder: share a local terminal with a remote browser",
		Version: version,
	}
	root.SetVersionTemplate("ac {{.Version}}\n")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newConfigCmd(),
		newRunCmd(),
		newAttachCmd(),
		newListCmd(),
		newInfoCmd(),
		newDeleteCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCode is implemented by errors that carry a specific exit code
// from spec.md §6's taxonomy.
type exitCode interface {
	ExitCode() int
}

func exitCodeFor(err error) int {
	if ec, ok := err.(exitCode); ok {
		return ec.ExitCode()
	}
	return exitGenericError
}

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) ExitCode() int { return e.code }

func newCLIError(code int, format string, args ...any) error {
	return &cliError{code: code, err: fmt.Errorf(format, args...)}
}
