package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tyyzqmf/always-coder-sub001/internal/authclient"
	"github.com/tyyzqmf/always-coder-sub001/internal/config"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Obtain a bearer token and persist it to config",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.Load()
			if err != nil {
				return newCLIError(exitGenericError, "load config: %w", err)
			}
			cfg := mgr.Get()
			if cfg.WebURL == "" {
				return newCLIError(exitUsage, "webUrl is not configured; run: ac config set webUrl <url>")
			}

			serverCfg, err := authclient.FetchServerConfig(cfg.WebURL)
			if err != nil {
				return newCLIError(exitServerUnreachable, "fetch server config: %w", err)
			}

			tok, err := authclient.Login(cfg.WebURL)
			if err != nil {
				return newCLIError(exitAuthRequired, "login: %w", err)
			}

			_ = mgr.Set("server", serverCfg.Server)
			_ = mgr.Set("authToken", tok.AccessToken)
			_ = mgr.Set("refreshToken", tok.RefreshToken)
			_ = mgr.Set("userId", tok.UserID)
			_ = mgr.Set("cognitoUserPoolId", serverCfg.Cognito.UserPoolID)
			_ = mgr.Set("cognitoClientId", serverCfg.Cognito.ClientID)
			_ = mgr.Set("cognitoRegion", serverCfg.Cognito.Region)
			if err := mgr.Save(); err != nil {
				return newCLIError(exitGenericError, "save config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "logged in as", tok.UserID)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the persisted bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.Load()
			if err != nil {
				return newCLIError(exitGenericError, "load config: %w", err)
			}
			_ = mgr.Unset("authToken")
			_ = mgr.Unset("refreshToken")
			_ = mgr.Unset("userId")
			if err := mgr.Save(); err != nil {
				return newCLIError(exitGenericError, "save config: %w", err)
			}
			return nil
		},
	}
}
