package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/api"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/browser"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/clock/system"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/config"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/crawler"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/detector"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/dispatcher"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/evidence"
	evidencegcs "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/evidence/gcs"
	iduuid "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/id/uuid"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/orchestrator"
	brokermem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress/memory"
	brokerpubsub "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress/pubsub"
	queuemem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/queue/memory"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scoring"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/storage/postgres"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/worker"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/ws"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scanner service",
		Long: `Starts the HTTP API, the scan worker pool, and the progress relay, and
blocks until the process receives SIGINT or SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, syncLogger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewScanStore(ctx, postgres.ScanStoreConfig{DSN: cfg.DB.DSN})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	broker, closeBroker, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	factory := browser.NewChromedpFactory(browser.ChromedpConfig{
		UserAgent:  cfg.Browser.UserAgent,
		NavTimeout: cfg.Browser.NavTimeout(),
		Headless:   cfg.Browser.Headless,
	}, logger)
	defer factory.Close()

	rewriter := scan.NopRewriter
	if cfg.Browser.LoopbackHostAlias != "" {
		rewriter = scan.LoopbackRewriter(cfg.Browser.LoopbackHostAlias)
	}

	opts := orchestrator.Options{
		Estimator: &crawler.Estimator{
			UserAgent: cfg.Browser.UserAgent,
			MaxPages:  cfg.Crawler.EstimatorMaxPages,
		},
	}
	if cfg.Evidence.Enabled {
		capturer, err := buildEvidence(ctx, cfg, factory, rewriter, logger)
		if err != nil {
			return err
		}
		opts.Evidence = capturer
	}

	clock := system.New()
	orch := orchestrator.New(
		store,
		broker,
		scoring.NewSectionPenalty(),
		detector.Default(),
		detector.NewRunner(iduuid.NewGenerator(), logger),
		newDiscovererFactory(cfg, factory, rewriter, logger),
		cfg.Tier,
		clock,
		logger,
		opts,
	)

	queue := queuemem.NewQueue(cfg.Worker.QueueDepth)
	defer queue.Close()
	workers := make([]*worker.Worker, cfg.Worker.MaxConcurrentScans)
	for i := range workers {
		workers[i] = worker.New(queue, orch, logger)
	}
	disp := dispatcher.New(queue, workers)
	go disp.Run(ctx)

	manager := ws.NewManager(logger)
	relay := ws.NewRelay(broker, manager, logger)
	server := api.NewServer(store, disp, relay, clock, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scanner service listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildBroker prefers Pub/Sub when a project is configured and otherwise
// keeps progress in process.
func buildBroker(ctx context.Context, cfg config.Config, logger *zap.Logger) (scan.Broker, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("using in-memory progress broker")
		return brokermem.NewBroker(), func() {}, nil
	}
	broker, err := brokerpubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub broker: %w", err)
	}
	return broker, func() {
		if err := broker.Close(); err != nil {
			logger.Warn("pubsub broker close failed", zap.Error(err))
		}
	}, nil
}

func buildEvidence(ctx context.Context, cfg config.Config, factory browser.Factory, rewriter scan.HostRewriter, logger *zap.Logger) (*evidence.Capturer, error) {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	blobs, err := evidencegcs.New(client, evidencegcs.Config{Bucket: cfg.Evidence.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("init evidence store: %w", err)
	}
	return evidence.NewCapturer(factory, blobs, rewriter, int64(cfg.Evidence.MaxConcurrent), logger), nil
}

// newDiscovererFactory builds a fresh browser session and discovery engine
// per scan.
func newDiscovererFactory(cfg config.Config, factory browser.Factory, rewriter scan.HostRewriter, logger *zap.Logger) orchestrator.DiscovererFactory {
	return func(ctx context.Context, app scan.Application, tier config.TierConfig) (orchestrator.Discoverer, func(), error) {
		driver, err := factory.NewDriver(ctx)
		if err != nil {
			return nil, func() {}, fmt.Errorf("start browser session: %w", err)
		}
		engine := crawler.New(driver, crawler.Config{
			BaseURL:          app.URL,
			MaxPages:         tier.MaxPages,
			Auth:             app.AuthConfig,
			Rewrite:          rewriter,
			Settle:           cfg.Browser.Settle(),
			PagesPerSecond:   cfg.Crawler.DomainQPS,
			MenuExpandRounds: cfg.Crawler.MenuExpandRounds,
		}, logger)
		cleanup := func() {
			if err := driver.Close(); err != nil {
				logger.Warn("browser session close failed", zap.Error(err))
			}
		}
		return engine, cleanup, nil
	}
}
