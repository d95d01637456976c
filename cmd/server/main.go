package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"issuant/internal/cipher"
	"issuant/internal/credential/metrics"
	"issuant/internal/credential/service"
	credstore "issuant/internal/credential/store"
	"issuant/internal/didresolver"
	"issuant/internal/platform/config"
	"issuant/internal/platform/database"
	"issuant/internal/platform/httpserver"
	"issuant/internal/platform/logger"
	"issuant/internal/portalclient"
	processstore "issuant/internal/process/store"
	httptransport "issuant/internal/transport/http"
	"issuant/internal/walletclient"
	"issuant/migrations"
	"issuant/pkg/platform/audit"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing issuant",
		"addr", cfg.Addr,
		"issuer_bpn", cfg.Issuer.Bpn,
	)

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

	var (
		requests  credstore.Store
		processes service.ProcessStore
		tx        database.Tx
	)
	if pool != nil {
		defer pool.Close() //nolint:errcheck

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrations.Apply(ctx, pool.DB()); err != nil {
			cancel()
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		cancel()

		requests = credstore.NewPostgres(pool.DB())
		processes = processstore.NewPostgres(pool.DB())
		tx = database.NewSQLTx(pool.DB())
	} else {
		log.Warn("no database configured, using in-memory stores")
		requests = credstore.NewInMemory()
		processes = processstore.NewInMemory()
		tx = database.NewInMemoryTx()
	}

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

	credentials := service.New(
		requests,
		processes,
		tx,
		cipherRegistry,
		didresolver.New(),
		wallet,
		portal,
		service.Settings{
			IssuerDid:     cfg.Issuer.Did,
			IssuerBpn:     cfg.Issuer.Bpn,
			StatusListURL: cfg.Issuer.StatusListURL,
			MaxPageSize:   cfg.Issuer.MaxPageSize,
		},
		service.WithLogger(log),
		service.WithAuditLogger(audit.NewLogger(log, nil)),
		service.WithMetrics(metrics.New()),
	)

	handler := httptransport.NewHandler(credentials, log)
	router := httptransport.NewRouter(handler, cfg.JWTSigningKey, log)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
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
