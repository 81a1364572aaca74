// Command acrelay is the always-coder Session Relay: it upgrades
// WebSocket connections from CLI hosts and web viewers, and brokers
// encrypted terminal traffic between them (spec.md §4).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tyyzqmf/always-coder-sub001/internal/logger"
	"github.com/tyyzqmf/always-coder-sub001/internal/relay"
	"github.com/tyyzqmf/always-coder-sub001/internal/store"
)

const shutdownGrace = 5 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "acrelay",
		Short: "always-coder session relay",
		RunE:  run,
	}

	root.Flags().String("addr", ":8080", "listen address")
	root.Flags().String("db", "", "sqlite database path (empty keeps sessions in memory only)")
	root.Flags().String("ws-base", "ws://localhost:8080/ws/relay", "WS endpoint advertised to clients")
	root.Flags().String("web-url", "http://localhost:8080", "web origin advertised to clients")
	root.Flags().String("cognito-user-pool-id", "", "Cognito user pool id forwarded to clients")
	root.Flags().String("cognito-client-id", "", "Cognito client id forwarded to clients")
	root.Flags().String("cognito-region", "", "Cognito region forwarded to clients")
	root.Flags().String("log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acrelay:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	if err := logger.Init(logLevel, ""); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	addr, _ := cmd.Flags().GetString("addr")
	dbPath, _ := cmd.Flags().GetString("db")
	wsBase, _ := cmd.Flags().GetString("ws-base")
	webURL, _ := cmd.Flags().GetString("web-url")
	poolID, _ := cmd.Flags().GetString("cognito-user-pool-id")
	clientID, _ := cmd.Flags().GetString("cognito-client-id")
	region, _ := cmd.Flags().GetString("cognito-region")

	st, closeStore, err := openStore(dbPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer closeStore()

	signingKey, err := relay.GenerateSigningKey()
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	gate := relay.NewAuthGate(nil, &signingKey.PublicKey)

	stop := make(chan struct{})
	defer close(stop)
	go gate.StartLimiterSweep(stop)

	srv := relay.NewServer(relay.ServerConfig{
		Addr:              addr,
		WSBase:            wsBase,
		WebURL:            webURL,
		CognitoUserPoolID: poolID,
		CognitoClientID:   clientID,
		CognitoRegion:     region,
	}, st, gate, signingKey)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("acrelay listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "addr", addr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		srv.GracefulShutdown(shutdownCtx)
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func openStore(dbPath string) (store.Store, func(), error) {
	if dbPath == "" {
		return store.NewMemStore(), func() {}, nil
	}
	sqliteStore, err := store.OpenSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return sqliteStore, func() { _ = sqliteStore.Close() }, nil
}
