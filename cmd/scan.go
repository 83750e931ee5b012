package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/browser"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/clock/system"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/crawler"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/detector"
	iduuid "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/id/uuid"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/orchestrator"
	brokermem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/progress/memory"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scoring"
	storemem "github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/storage/memory"
)

type scanFlags struct {
	url      string
	scanType string
	loginURL string
	username string
	password string
}

func newScanCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Runs a single scan from the command line",
		Long: `Executes one scan against the given URL without the service, keeping all
state in memory, and writes the findings report to stdout as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScanCommand(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.url, "url", "", "base URL of the application to scan (required)")
	cmd.Flags().StringVar(&flags.scanType, "type", string(scan.TypeStandard), "scan tier: quick, standard, or deep")
	cmd.Flags().StringVar(&flags.loginURL, "login-url", "", "login page URL for form authentication")
	cmd.Flags().StringVar(&flags.username, "username", "", "username for form authentication")
	cmd.Flags().StringVar(&flags.password, "password", "", "password for form authentication")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runScanCommand(ctx context.Context, flags *scanFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, syncLogger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer syncLogger()

	app := scan.Application{
		ID:   uuid.New(),
		Name: flags.url,
		URL:  flags.url,
	}
	if flags.username != "" {
		app.AuthConfig = &scan.AuthConfig{
			Type:     scan.AuthForm,
			LoginURL: flags.loginURL,
			Username: flags.username,
			Password: flags.password,
		}
	}
	sc := scan.Scan{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		Type:          scan.Type(flags.scanType),
		Status:        scan.StatusQueued,
	}

	store := storemem.NewStore()
	store.PutApplication(app)
	store.PutScan(sc)

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

	orch := orchestrator.New(
		store,
		brokermem.NewBroker(),
		scoring.NewSectionPenalty(),
		detector.Default(),
		detector.NewRunner(iduuid.NewGenerator(), logger),
		newDiscovererFactory(cfg, factory, rewriter, logger),
		cfg.Tier,
		system.New(),
		logger,
		orchestrator.Options{
			Estimator: &crawler.Estimator{
				UserAgent: cfg.Browser.UserAgent,
				MaxPages:  cfg.Crawler.EstimatorMaxPages,
			},
		},
	)

	if err := orch.Run(ctx, scan.QueueItem{ScanID: sc.ID, ApplicationID: app.ID}); err != nil {
		logger.Error("scan did not complete", zap.Error(err))
	}

	return writeReport(ctx, store, sc.ID)
}

func writeReport(ctx context.Context, store *storemem.Store, scanID uuid.UUID) error {
	final, err := store.LoadScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("load scan result: %w", err)
	}
	report := struct {
		Scan     scan.Scan      `json:"scan"`
		Findings []scan.Finding `json:"findings"`
	}{
		Scan:     final,
		Findings: store.Findings(scanID),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
