package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"issuant/internal/credential/expiry"
	"issuant/internal/credential/metrics"
	credstore "issuant/internal/credential/store"
	"issuant/internal/platform/config"
	"issuant/internal/platform/database"
	"issuant/internal/platform/logger"
	"issuant/internal/portalclient"
	"issuant/migrations"
)

// main wires the expiry sweep: it classifies credential requests against the
// retention and notification windows and deletes, declines or notifies
// accordingly. With -once it runs a single sweep and exits, which suits cron
// style deployments.
func main() {
	once := flag.Bool("once", false, "run a single expiry sweep and exit")
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing expiry check",
		"interval", cfg.Expiry.Interval,
		"once", *once,
	)

	if cfg.DatabaseURL == "" {
		log.Error("ISSUANT_DATABASE_URL is required")
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

	sweep := expiry.New(
		credstore.NewPostgres(pool.DB()),
		database.NewSQLTx(pool.DB()),
		portal,
		expiry.Settings{
			InactiveRetentionWeeks: cfg.Expiry.InactiveRetentionWeeks,
			ExpiredRetentionMonths: cfg.Expiry.ExpiredRetentionMonths,
		},
		expiry.WithLogger(log),
		expiry.WithInterval(cfg.Expiry.Interval),
		expiry.WithMetrics(metrics.New()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *once {
		result, err := sweep.RunOnce(ctx)
		if err != nil {
			log.Error("expiry sweep failed", "error", err)
			os.Exit(1)
		}
		log.Info("expiry sweep finished",
			"deleted", result.Deleted,
			"declined", result.Declined,
			"notified", result.Notified,
			"failed", result.Failed,
			"duration", result.Duration,
		)
		return
	}

	log.Info("expiry check started")

	if err := sweep.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("expiry check failed", "error", err)
		os.Exit(1)
	}

	log.Info("expiry check stopped")
}
