package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

// newAnnotateCmd regenerates the annotated page of a stored report.
func newAnnotateCmd(factory service.ComponentFactory) *cobra.Command {
	var testID, output string

	annotateCmd := &cobra.Command{
		Use:   "annotate",
		Short: "Render the annotated page of a stored report",
		Long: `Reloads the page of a stored report, marks the stored findings on it and saves
the annotated HTML back onto the report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runAnnotate(ctx, observability.GetLogger(), cfg, testID, output, factory, cmd.OutOrStdout())
		},
	}

	annotateCmd.Flags().StringVar(&testID, "test-id", "", "The test id of the stored report (required)")
	_ = annotateCmd.MarkFlagRequired("test-id")
	annotateCmd.Flags().StringVarP(&output, "output", "o", "", "Write the HTML to this file instead of stdout.")
	return annotateCmd
}

func runAnnotate(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	testID, output string,
	factory service.ComponentFactory,
	stdout io.Writer,
) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	report, err := components.Store.FindByTestID(ctx, testID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		return fmt.Errorf("no report found for test id %q", testID)
	}

	html, err := components.Orchestrator.Annotate(ctx, report.URL, report.Findings)
	if err != nil {
		return fmt.Errorf("annotation failed: %w", err)
	}
	if err := components.Store.Update(ctx, report.ID, store.ReportUpdate{ModifiedHTML: &html}); err != nil {
		return fmt.Errorf("failed to save annotated HTML: %w", err)
	}
	logger.Info("Annotated HTML stored", zap.String("test_id", testID), zap.Int("findings", len(report.Findings)))

	return writeOutput(output, stdout, func(w io.Writer) error {
		_, err := io.WriteString(w, html)
		return err
	})
}
