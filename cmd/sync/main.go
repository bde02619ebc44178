// Command sync is the one-shot sync runner: the full pipeline, a single-ticker
// deep update, or an administrative purge.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Ericincode/my-investment-assets/internal/clients/nasdaq"
	"github.com/Ericincode/my-investment-assets/internal/clients/translate"
	"github.com/Ericincode/my-investment-assets/internal/clients/yahoo"
	"github.com/Ericincode/my-investment-assets/internal/config"
	"github.com/Ericincode/my-investment-assets/internal/database"
	"github.com/Ericincode/my-investment-assets/internal/modules/history"
	"github.com/Ericincode/my-investment-assets/internal/modules/listing"
	"github.com/Ericincode/my-investment-assets/internal/modules/returns"
	syncmod "github.com/Ericincode/my-investment-assets/internal/modules/sync"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
	"github.com/Ericincode/my-investment-assets/pkg/logger"
)

func main() {
	ticker := flag.String("ticker", "", "deep-update a single ticker and exit")
	purgeAll := flag.Bool("purge-all", false, "hard-delete every security and its price history")
	purgeSpecial := flag.Bool("purge-special", false, "hard-delete securities matching the exclusion vocabulary")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Failed to build logger")
	}
	logger.SetGlobalLogger(log)

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileMarket,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate market database")
	}

	securityRepo := universe.NewSecurityRepository(db.Conn(), log)
	priceRepo := universe.NewPriceRepository(db.Conn(), log)

	if *purgeAll {
		deleted, err := securityRepo.PurgeAll()
		if err != nil {
			log.Fatal().Err(err).Msg("Purge failed")
		}
		log.Info().Int64("deleted", deleted).Msg("Purged all securities")
		return
	}

	if *purgeSpecial {
		deleted, err := securityRepo.DeleteByNameKeywords(listing.ExclusionKeywords)
		if err != nil {
			log.Fatal().Err(err).Msg("Purge failed")
		}
		log.Info().Int64("deleted", deleted).Msg("Purged special securities")
		return
	}

	yahooClient := yahoo.NewClient(log)
	nasdaqClient := nasdaq.NewClient(log)
	translateClient := translate.NewClient("zh-CN", log)

	reconciler := listing.NewReconciler(
		securityRepo, nasdaqClient, translateClient,
		cfg.ListingFeeds, cfg.TranslateBatch, log,
	)
	historyFetcher := history.NewFetcher(securityRepo, priceRepo, yahooClient, log)
	returnsCalc := returns.NewCalculator(securityRepo, priceRepo, log)

	orchestrator := syncmod.NewOrchestrator(
		securityRepo, reconciler, historyFetcher, returnsCalc, yahooClient,
		syncmod.Options{
			Workers:          cfg.SyncWorkers,
			DeepTopQueried:   cfg.DeepTopQueried,
			DeepTopMarketCap: cfg.DeepTopMarketCap,
			ShallowBatchSize: cfg.ShallowBatchSize,
		},
		log,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *ticker != "" {
		outcome, err := orchestrator.UpdateTicker(ctx, *ticker)
		if err != nil {
			log.Fatal().Err(err).Str("ticker", *ticker).Msg("Single-ticker update failed")
		}
		log.Info().Msg(outcome)
		return
	}

	result, err := orchestrator.RunFull(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Full sync run failed")
	}

	log.Info().
		Int("created", result.Listing.Created).
		Int("updated", result.Listing.Updated).
		Int("deactivated", result.Listing.Deactivated).
		Int("deep_targets", result.DeepTargets).
		Int("shallow_updated", result.ShallowUpdated).
		Dur("duration", result.Duration).
		Msg("Full sync run finished")
}
