package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"issuant/internal/credential/metrics"
	"issuant/internal/credential/renewal"
	credstore "issuant/internal/credential/store"
	"issuant/internal/platform/config"
	"issuant/internal/platform/database"
	"issuant/internal/platform/logger"
	processstore "issuant/internal/process/store"
	"issuant/migrations"
)

// main wires the reissuance sweep: it finds ACTIVE credentials close to
// their expiry date and creates successor requests whose creation pipeline
// later revokes the superseded credential. With -once it runs a single sweep
// and exits, which suits cron style deployments.
func main() {
	once := flag.Bool("once", false, "run a single reissuance sweep and exit")
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing reissuance sweep",
		"interval", cfg.Renewal.Interval,
		"ahead_days", cfg.Renewal.AheadDays,
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

	sweep := renewal.New(
		credstore.NewPostgres(pool.DB()),
		processstore.NewPostgres(pool.DB()),
		database.NewSQLTx(pool.DB()),
		renewal.Settings{
			AheadDays:      cfg.Renewal.AheadDays,
			ValidityMonths: cfg.Renewal.ValidityMonths,
		},
		renewal.WithLogger(log),
		renewal.WithInterval(cfg.Renewal.Interval),
		renewal.WithMetrics(metrics.New()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *once {
		result, err := sweep.RunOnce(ctx)
		if err != nil {
			log.Error("reissuance sweep failed", "error", err)
			os.Exit(1)
		}
		log.Info("reissuance sweep finished",
			"reissued", result.Reissued,
			"failed", result.Failed,
			"duration", result.Duration,
		)
		return
	}

	log.Info("reissuance sweep started")

	if err := sweep.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reissuance sweep failed", "error", err)
		os.Exit(1)
	}

	log.Info("reissuance sweep stopped")
}
