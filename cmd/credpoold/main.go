// Command credpoold runs the credential pool maintenance daemon: it
// periodically refreshes access tokens that are about to expire and
// provisions tenant ids for credentials that are missing one, keeping that
// work off the request path of the proxy processes sharing the store.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	sqliteadapter "github.com/credshare/credpool/internal/adapter/driven/sqlite"
	"github.com/credshare/credpool/internal/adapter/driven/upstream"
	"github.com/credshare/credpool/internal/application"
	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"db_path", cfg.DBPath,
		"sweep_interval", cfg.SweepInterval,
		"refresh_margin", cfg.RefreshMargin,
		"encryption", cfg.SecretKey != nil,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters: store plus one upstream client pair per mode.
	credStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)

	oauth := map[model.ProviderMode]driven.OAuthClient{}
	tenants := map[model.ProviderMode]driven.TenantClient{}
	for _, mode := range model.Modes() {
		mc := cfg.Mode(mode)
		oauth[mode] = upstream.NewTokenClient(mc.TokenURL, mc.UserAgent)
		tenants[mode] = upstream.NewTenantClient(mc.APIBase, mc.UserAgent, mc.IDEType, slog.Default())
	}

	// 6. Create and start the maintenance sweep. Start blocks until the
	// context is cancelled.
	tokens := application.NewTokenManager(credStore, oauth, cfg)
	resolver := application.NewResolver(credStore, tokens, tenants)
	svc := application.NewRefreshService(credStore, tokens, resolver, cfg)

	slog.Info("maintenance daemon started")
	svc.Start(ctx)
	return nil
}
