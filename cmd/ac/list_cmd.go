package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tyyzqmf/always-coder-sub001/internal/config"
	"github.com/tyyzqmf/always-coder-sub001/internal/query"
)

func newListCmd() *cobra.Command {
	all := false
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List owned sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEffectiveConfig()
			if err != nil {
				return err
			}
			sessions, err := query.List(cfg.Server, cfg.AuthToken, all)
			if err != nil {
				return newCLIError(exitServerUnreachable, "list: %w", err)
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.SessionID, s.State, s.InstanceLabel)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include cli-detached sessions")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <sessionId>",
		Short: "Show one session's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEffectiveConfig()
			if err != nil {
				return err
			}
			info, err := query.Info(cfg.Server, cfg.AuthToken, args[0])
			if err != nil {
				return newCLIError(exitSessionNotFound, "info: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sessionId: %s\nstate: %s\ncommand: %s %v\nwebPeers: %d\n",
				info.SessionID, info.State, info.Command, info.Args, info.WebPeerCount)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sessionId>",
		Short: "Close and forget an owned session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEffectiveConfig()
			if err != nil {
				return err
			}
			if err := query.Delete(cfg.Server, cfg.AuthToken, args[0]); err != nil {
				return newCLIError(exitSessionNotFound, "delete: %w", err)
			}
			return nil
		},
	}
}

func loadEffectiveConfig() (config.Config, error) {
	mgr, err := config.Load()
	if err != nil {
		return config.Config{}, newCLIError(exitGenericError, "load config: %w", err)
	}
	cfg := mgr.Get()
	if cfg.Server == "" {
		return config.Config{}, newCLIError(exitUsage, "server is not configured; run: ac login")
	}
	if cfg.AuthToken == "" {
		return config.Config{}, newCLIError(exitAuthRequired, "not logged in; run: ac login")
	}
	return cfg, nil
}
