package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"issuant/internal/callbackclient"
	"issuant/internal/cipher"
	credstore "issuant/internal/credential/store"
	"issuant/internal/platform/config"
	"issuant/internal/platform/database"
	"issuant/internal/platform/logger"
	"issuant/internal/portalclient"
	"issuant/internal/process/creation"
	"issuant/internal/process/decline"
	"issuant/internal/process/engine"
	processstore "issuant/internal/process/store"
	"issuant/internal/walletclient"
	"issuant/migrations"
)

// main wires the process worker: it claims due credential processes from the
// shared database and executes their pipeline steps until interrupted.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing process worker",
		"interval", cfg.Worker.Interval,
		"batch_size", cfg.Worker.BatchSize,
	)

	if cfg.DatabaseURL == "" {
		log.Error("ISSUANT_DATABASE_URL is required, the worker shares its queue through the database")
		os.Exit(1)
	}

	cipherRegistry, err := newCipherRegistry(cfg.Encryption)
	if err != nil {
		log.Error("cipher setup failed", "error", err)
		os.Exit(1)
	}

	pool, err := database.New(database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Error("database setup failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close() //nolint:errcheck

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := migrations.Apply(migrateCtx, pool.DB()); err != nil {
		cancel()
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	cancel()

	requests := credstore.NewPostgres(pool.DB())
	processes := processstore.NewPostgres(pool.DB())
	tx := database.NewSQLTx(pool.DB())

	wallet, err := walletclient.New(walletclient.Config{
		BaseURL:      cfg.Wallet.BaseURL,
		TokenURL:     cfg.Wallet.TokenURL,
		ClientID:     cfg.Wallet.ClientID,
		ClientSecret: cfg.Wallet.ClientSecret,
	})
	if err != nil {
		log.Error("wallet client setup failed", "error", err)
		os.Exit(1)
	}
	portal, err := portalclient.New(portalclient.Config{
		BaseURL:      cfg.Portal.BaseURL,
		TokenURL:     cfg.Portal.TokenURL,
		ClientID:     cfg.Portal.ClientID,
		ClientSecret: cfg.Portal.ClientSecret,
	})
	if err != nil {
		log.Error("portal client setup failed", "error", err)
		os.Exit(1)
	}
	callback, err := callbackclient.New(callbackclient.Config{
		TokenURL:     cfg.Callback.TokenURL,
		ClientID:     cfg.Callback.ClientID,
		ClientSecret: cfg.Callback.ClientSecret,
	})
	if err != nil {
		log.Error("callback client setup failed", "error", err)
		os.Exit(1)
	}

	registry, err := engine.NewRegistry(
		creation.New(requests, processes, wallet, callback, cipherRegistry),
		decline.New(requests, wallet, portal),
	)
	if err != nil {
		log.Error("pipeline registry setup failed", "error", err)
		os.Exit(1)
	}

	worker := engine.NewWorker(processes, tx, registry,
		engine.WorkerSettings{
			Interval:     cfg.Worker.Interval,
			LockDuration: cfg.Worker.LockDuration,
			BatchSize:    cfg.Worker.BatchSize,
			Parallelism:  cfg.Worker.Parallelism,
		},
		engine.WithLogger(log),
		engine.WithMetrics(engine.NewMetrics()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("process worker started")

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("process worker failed", "error", err)
		os.Exit(1)
	}

	log.Info("process worker stopped")
}

func newCipherRegistry(cfg config.Encryption) (*cipher.Registry, error) {
	var (
		cc  cipher.Config
		err error
	)
	if cfg.HexKey != "" {
		cc, err = cipher.NewConfigFromHexKey(cfg.ActiveIndex, cfg.HexKey)
	} else {
		cc, err = cipher.NewConfigFromPassphrase(cfg.ActiveIndex, cfg.Passphrase, cfg.Salt)
	}
	if err != nil {
		return nil, err
	}
	return cipher.NewRegistry(cfg.ActiveIndex, cc)
}
