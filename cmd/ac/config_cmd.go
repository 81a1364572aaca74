package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tyyzqmf/always-coder-sub001/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the local configuration",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd(), newConfigUnsetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.Load()
			if err != nil {
				return newCLIError(exitGenericError, "load config: %w", err)
			}
			val, err := mgr.GetField(args[0])
			if err != nil {
				return newCLIError(exitUsage, "%w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), val)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.Load()
			if err != nil {
				return newCLIError(exitGenericError, "load config: %w", err)
			}
			if err := mgr.Set(args[0], args[1]); err != nil {
				return newCLIError(exitUsage, "%w", err)
			}
			if err := mgr.Save(); err != nil {
				return newCLIError(exitGenericError, "save config: %w", err)
			}
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Clear one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.Load()
			if err != nil {
				return newCLIError(exitGenericError, "load config: %w", err)
			}
			if err := mgr.Unset(args[0]); err != nil {
				return newCLIError(exitUsage, "%w", err)
			}
			if err := mgr.Save(); err != nil {
				return newCLIError(exitGenericError, "save config: %w", err)
			}
			return nil
		},
	}
}
