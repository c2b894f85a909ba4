// Command expire-worker sweeps overdue active listings to expired on a
// fixed interval. Expiry is lazy by design: nothing happens at the expiry
// instant itself, only at the next sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/homescout/homescout-api/internal/config"
	"github.com/homescout/homescout-api/internal/domain/credit"
	"github.com/homescout/homescout-api/internal/domain/listing"
	"github.com/homescout/homescout-api/internal/pkg/database"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Dur("poll_interval", cfg.ExpirePollInterval).
		Msg("Starting expire-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	creditService := credit.NewService(db)
	listingService := listing.NewService(db, creditService, cfg.ListingValidityDays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	ticker := time.NewTicker(cfg.ExpirePollInterval)
	defer ticker.Stop()

	// Sweep once at startup so a long poll interval doesn't delay the
	// first pass after a restart.
	sweep(ctx, listingService)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expire-worker stopped")
			return
		case <-ticker.C:
			sweep(ctx, listingService)
		}
	}
}

// expiringSoonWindow is how far ahead the sweep looks for listings that are
// about to lapse.
const expiringSoonWindow = 7 * 24 * time.Hour

func sweep(ctx context.Context, svc *listing.Service) {
	start := time.Now()
	count, err := svc.ExpireDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Sweep failed")
		return
	}

	if count > 0 {
		log.Info().
			Int64("expired", count).
			Dur("took", time.Since(start)).
			Msg("Sweep done")
	}

	// TODO: hand these to a notifier once owner email delivery exists.
	soon, err := svc.ListExpiringSoon(ctx, expiringSoonWindow)
	if err != nil {
		log.Error().Err(err).Msg("Expiring-soon lookup failed")
		return
	}
	for _, l := range soon {
		log.Info().
			Str("listing_id", l.ID.String()).
			Str("user_id", l.UserID.String()).
			Time("expires_at", l.ExpiresAt.Time).
			Msg("Listing expiring soon")
	}
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
