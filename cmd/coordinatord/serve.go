package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentforge/coordinator/internal/codehost"
	"github.com/agentforge/coordinator/internal/config"
	"github.com/agentforge/coordinator/internal/coordinator"
	"github.com/agentforge/coordinator/internal/crypto"
	"github.com/agentforge/coordinator/internal/identity"
	"github.com/agentforge/coordinator/internal/ingest/slack"
	"github.com/agentforge/coordinator/internal/masterkey"
	"github.com/agentforge/coordinator/internal/reposecrets"
	"github.com/agentforge/coordinator/internal/store"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session coordinator server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad()

	masterKey, err := loadMasterKey(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading envelope master key: %w", err)
	}
	sealer, err := crypto.NewSealer(masterKey)
	if err != nil {
		return fmt.Errorf("constructing sealer: %w", err)
	}

	if err := os.MkdirAll(cfg.SessionDataDir, 0o755); err != nil {
		return fmt.Errorf("creating session data directory: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.SessionDataDir, "session.db"))
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer st.Close()

	var secretsDB *reposecrets.DB
	if cfg.ReposecretsDSN != "" {
		secretsDB, err = reposecrets.OpenDB(cfg.ReposecretsDriver, cfg.ReposecretsDSN, sealer)
		if err != nil {
			return fmt.Errorf("opening repo secrets store: %w", err)
		}
	}

	var identityPort identity.Port
	if cfg.IdentityAppID != "" && cfg.IdentityPrivateKeyPEM != "" {
		identityPort, err = identity.NewClient(cfg.IdentityAppID, []byte(cfg.IdentityPrivateKeyPEM))
		if err != nil {
			return fmt.Errorf("constructing identity client: %w", err)
		}
	}

	co, err := coordinator.New(cfg, st, secretsDB, codehost.NewClient(), identityPort, sealer)
	if err != nil {
		return fmt.Errorf("constructing coordinator: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	co.Start()
	defer co.Stop()

	if cfg.SlackBotToken != "" && cfg.SlackAppToken != "" {
		bot := slack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, "", co)
		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("slack bot stopped", slog.Any("error", err))
			}
		}()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: co.App.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("coordinator listening", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// loadMasterKey fetches the envelope master key through the configured
// masterkey.Provider backend (env/vault/aws/kubernetes), mirroring
// internal/reposecrets' own "secrets are fetched at startup, not cached
// beyond the process" posture.
func loadMasterKey(ctx context.Context) ([]byte, error) {
	mkCfg := masterkey.LoadConfig()
	manager, err := masterkey.NewManager(ctx, mkCfg)
	if err != nil {
		return nil, err
	}
	defer manager.Close()
	return manager.MasterKey(ctx)
}
