package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/reporting"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

// storeProvider opens the report repository for commands that only read
// stored reports and never need a browser.
type storeProvider interface {
	// Create returns the repository and a cleanup that may be nil.
	Create(ctx context.Context, cfg config.Interface) (store.Repository, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider backed by the configured database.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create refuses to run without a database: the in-memory store of a fresh
// process never holds a report.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (store.Repository, func(), error) {
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (hint: set %s_DATABASE_URL)", EnvPrefix)
	}
	return service.InitializeStore(ctx, cfg.Database(), observability.GetLogger())
}

type reportOptions struct {
	TestID string
	Output string
	Format string
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var opts reportOptions

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export a stored report",
		Long: `Loads a stored report by its test id and writes it as JSON or as a SARIF 2.1.0
log with one result per resolved issue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, opts, provider)
		},
	}

	reportCmd.Flags().StringVar(&opts.TestID, "test-id", "", "The test id of the stored report (required)")
	_ = reportCmd.MarkFlagRequired("test-id")
	reportCmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringVarP(&opts.Format, "format", "f", "json", fmt.Sprintf("Output format (%s).", strings.Join(reporting.Formats, ", ")))
	return reportCmd
}

// runReport contains the core, testable logic for exporting a report.
func runReport(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts reportOptions, provider storeProvider) error {
	logger.Info("Starting report export", zap.String("test_id", opts.TestID), zap.String("format", opts.Format))

	repo, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	report, err := repo.FindByTestID(ctx, opts.TestID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		return fmt.Errorf("no report found for test id %q", opts.TestID)
	}

	reporter, err := reporting.New(opts.Format, opts.Output, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	if opts.Output != "" {
		logger.Info("Report successfully written to file", zap.String("path", opts.Output))
	}
	return nil
}
