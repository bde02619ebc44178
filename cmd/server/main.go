// Command server runs the market data HTTP API, the fetch-queue worker, and
// the nightly sync schedule.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

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
	"github.com/Ericincode/my-investment-assets/internal/queue"
	"github.com/Ericincode/my-investment-assets/internal/scheduler"
	"github.com/Ericincode/my-investment-assets/internal/server"
	"github.com/Ericincode/my-investment-assets/pkg/logger"
)

func main() {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetchQueue := queue.New(orchestrator, 0, log)
	fetchQueue.Start(ctx)

	runFull := func() {
		if _, err := orchestrator.RunFull(ctx); err != nil {
			if errors.Is(err, syncmod.ErrRunInProgress) {
				log.Warn().Msg("Sync run skipped: previous run still active")
				return
			}
			log.Error().Err(err).Msg("Sync run failed")
		}
	}

	cronScheduler := scheduler.New(log)
	if err := cronScheduler.Schedule(cfg.SyncSchedule, "nightly-sync", runFull); err != nil {
		log.Fatal().Err(err).Msg("Failed to register nightly sync")
	}
	cronScheduler.Start()

	srv := server.New(server.Config{
		Log:        log,
		DB:         db,
		Securities: securityRepo,
		Prices:     priceRepo,
		Queue:      fetchQueue,
		TriggerSync: func() error {
			if orchestrator.IsRunning() {
				return syncmod.ErrRunInProgress
			}
			go runFull()
			return nil
		},
		BenchmarkTicker: cfg.BenchmarkTicker,
		Port:            cfg.Port,
		DevMode:         cfg.DevMode,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cronScheduler.Stop()
	cancel()
	fetchQueue.Wait()

	log.Info().Msg("Shutdown complete")
}
