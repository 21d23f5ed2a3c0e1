package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Marketen/randao-duties/internal/adapters"
	"github.com/Marketen/randao-duties/internal/application/ports"
	"github.com/Marketen/randao-duties/internal/application/randao"
	"github.com/Marketen/randao-duties/internal/application/services"
	"github.com/Marketen/randao-duties/internal/application/shuffle"
	"github.com/Marketen/randao-duties/internal/config"
	"github.com/Marketen/randao-duties/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{}
	app.Name = "randao-duties"
	app.Usage = "derives validator duties from verified RANDAO entropy"
	app.Action = runService
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "follow a beacon node, ingest finalized reveals and report duties (default)",
			Action: runService,
		},
		dutiesCommand,
		shuffleCommand,
		thresholdCommand,
	}
	return app
}

func runService(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.BeaconNodeURL == "" {
		return errors.New("BEACON_NODE_URL is required to run the service; use the duties command for offline computation")
	}

	logger.Info("Starting randao-duties")
	logger.Info("Beacon node URL: %s", cfg.BeaconNodeURL)
	logger.Info("Poll interval: %s", cfg.PollInterval)
	logger.Info("Threshold policy: %s, remainder policy: %s", cfg.ThresholdPolicy, cfg.RemainderPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	beaconAdapter, err := adapters.NewBeaconHTTPAdapter(cfg.BeaconNodeURL, cfg.SlotsPerEpoch)
	if err != nil {
		return err
	}
	verifier, err := adapters.NewBlstVerifier()
	if err != nil {
		return err
	}

	var threshold ports.ThresholdVerifier
	var thresholdSource ports.ThresholdSource
	if cfg.GroupPublicKey != nil {
		sctx, err := beaconAdapter.GetSigningContext(ctx)
		if err != nil {
			return err
		}
		if threshold, err = adapters.NewThresholdVerifier(*cfg.GroupPublicKey, sctx); err != nil {
			return err
		}
		logger.Info("Threshold group key configured")
	}
	if cfg.ThresholdSigDir != "" {
		if thresholdSource, err = adapters.NewFileThresholdSource(cfg.ThresholdSigDir); err != nil {
			return err
		}
		logger.Info("Polling %s for group signatures", cfg.ThresholdSigDir)
	}

	var store ports.MixStore
	if cfg.MixDBPath != "" {
		if store, err = adapters.NewBoltMixStore(cfg.MixDBPath); err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("Could not close mix store: %v", err)
			}
		}()
	}

	permutations, err := shuffle.NewCache(shuffle.Shuffler{Algorithm: cfg.ShuffleAlgorithm}, shuffle.DefaultCacheSize)
	if err != nil {
		return err
	}
	logger.Info("Shuffle algorithm: %s", permutations.Algorithm())

	// Prefer the live registry size; fall back to the configured one.
	validatorCount := cfg.ValidatorCount
	if count, err := beaconAdapter.GetActiveValidatorCount(ctx); err != nil {
		logger.Warn("Could not fetch active validator count, using %d: %v", validatorCount, err)
	} else {
		validatorCount = count
	}
	logger.Info("Computing duties over %d validators", validatorCount)
	logger.Info("Tracking %d validators", len(cfg.ValidatorIndices))

	scheduler, err := services.NewDutiesScheduler(
		services.Dependencies{
			Beacon:          beaconAdapter,
			Verifier:        verifier,
			Threshold:       threshold,
			ThresholdSource: thresholdSource,
			Store:           store,
			Accumulator:     randao.NewAccumulator(cfg.ThresholdPolicy),
			Permutations:    permutations,
		},
		services.Params{
			PollInterval:      cfg.PollInterval,
			ValidatorIndices:  cfg.ValidatorIndices,
			ValidatorCount:    validatorCount,
			CommitteesPerSlot: cfg.CommitteesPerSlot,
			SlotsPerEpoch:     cfg.SlotsPerEpoch,
			SyncCommitteeSize: cfg.SyncCommitteeSize,
			RemainderPolicy:   cfg.RemainderPolicy,
		},
	)
	if err != nil {
		return err
	}
	if err := scheduler.Restore(); err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics on %s/metrics", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	// Handle SIGINT / SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(stopped)
	}()

	sig := <-sigCh
	logger.Warn("Received signal %s, shutting down...", sig)
	cancel()
	<-stopped

	if err := scheduler.Flush(); err != nil {
		logger.Warn("%v", err)
	}

	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown: %v", err)
		}
	}
	return nil
}
