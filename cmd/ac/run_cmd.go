package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tyyzqmf/always-coder-sub001/internal/clisession"
	"github.com/tyyzqmf/always-coder-sub001/internal/config"
)

func newRunCmd() *cobra.Command {
	daemon := false
	cmd := &cobra.Command{
		Use:                "run -- <command> [args...]",
		Short:              "Start a new session around a command",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, runOptions{
				sessionID: "",
				command:   args[0],
				args:      args[1:],
				daemon:    daemon,
			})
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "keep the PTY alive after the foreground process detaches")
	return cmd
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <sessionId>",
		Short: "Reconnect to an existing owned session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, runOptions{sessionID: args[0]})
		},
	}
}

type runOptions struct {
	sessionID string
	command   string
	args      []string
	daemon    bool
}

func runSession(cmd *cobra.Command, opts runOptions) error {
	mgr, err := config.Load()
	if err != nil {
		return newCLIError(exitGenericError, "load config: %w", err)
	}
	cfg := mgr.Get()
	if cfg.Server == "" {
		return newCLIError(exitUsage, "server is not configured; run: ac login")
	}

	shell := opts.command
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	}

	cols, rows := 80, 24
	if w, h, err := termSize(); err == nil {
		cols, rows = w, h
	}

	session, err := clisession.New(clisession.Config{
		ServerURL: cfg.Server,
		Token:     cfg.AuthToken,
		SessionID: opts.sessionID,
		Command:   shell,
		Args:      opts.args,
		Cwd:       mustGetwd(),
		Cols:      cols,
		Rows:      rows,
		Daemon:    opts.daemon,
		Filter:    clisession.DefaultFilterConfig(),
	})
	if err != nil {
		return newCLIError(exitGenericError, "initialize session: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx); err != nil {
		var exitErr *clisession.ExitError
		if errors.As(err, &exitErr) {
			return newCLIError(exitPTYNonZero, "%w", exitErr)
		}
		return newCLIError(exitServerUnreachable, "session: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "session", session.SessionID(), "ended")
	return nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// termSize reports a fixed 80x24; the real terminal size is not
// queried.
var termSize = func() (int, int, error) {
	return 80, 24, nil
}
