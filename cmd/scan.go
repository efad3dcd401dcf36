package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// scanOptions are the per-invocation settings of the scan command.
type scanOptions struct {
	URL     string
	Mode    orchestrator.Mode
	Persist bool
	Output  string
	// HTMLOnly writes the snapshot or annotated HTML instead of the JSON result.
	HTMLOnly bool
}

// newScanCmd creates and configures the `scan` command.
func newScanCmd(v *viper.Viper, factory service.ComponentFactory) *cobra.Command {
	var opts scanOptions

	scanCmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Audits a single page and prints the result",
		Long: `Renders the page, runs the accessibility audit and resolves every finding to an
on-page location. In snapshot mode the result carries a sanitized, script-free
copy of the page; in overlay mode it carries the page annotated with markers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			mode, err := orchestrator.ParseMode(cfg.Scan().DefaultMode)
			if err != nil {
				return err
			}
			opts.URL = args[0]
			opts.Mode = mode
			return runScan(ctx, logger, cfg, opts, factory, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := scanCmd.Flags()
	flags.String("mode", "", "Output mode: 'snapshot' or 'overlay'. (Overrides config/env)")
	flags.Duration("max-duration", 0, "Upper bound for the whole scan, e.g. 45s. (Overrides config/env)")
	flags.Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	flags.BoolVar(&opts.Persist, "persist", false, "Store the report and print its test id.")
	flags.StringVarP(&opts.Output, "output", "o", "", "Write the result to this file instead of stdout.")
	flags.BoolVar(&opts.HTMLOnly, "html", false, "Write only the snapshot or annotated HTML.")

	_ = v.BindPFlag("scan.default_mode", flags.Lookup("mode"))
	_ = v.BindPFlag("scan.max_duration", flags.Lookup("max-duration"))
	_ = v.BindPFlag("browser.headless", flags.Lookup("headless"))
	return scanCmd
}

// runScan contains the core, testable logic of the scan command.
func runScan(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts scanOptions,
	factory service.ComponentFactory,
	stdout, stderr io.Writer,
) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scan components: %w", err)
	}
	defer components.Shutdown()

	logger.Info("Starting scan", zap.String("url", opts.URL), zap.String("mode", string(opts.Mode)))
	outcome, err := components.Orchestrator.Run(ctx, opts.URL, opts.Mode)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	var testID string
	if opts.Persist {
		if !components.Persistent() {
			logger.Warn("Persisting to the in-memory store; the report is discarded on exit.")
		}
		testID = uuid.NewString()
		if _, err := components.Store.Add(ctx, outcome.Report(testID, time.Now())); err != nil {
			return fmt.Errorf("failed to store report: %w", err)
		}
		fmt.Fprintf(stderr, "Report stored. Test ID: %s\n", testID)
	}

	return writeOutput(opts.Output, stdout, func(w io.Writer) error {
		if opts.HTMLOnly {
			_, err := io.WriteString(w, outcomeHTML(outcome))
			return err
		}
		return encodeJSON(w, scanPayload(outcome, testID))
	})
}

// scanPayload is the printed result: the mode's response plus the test id
// when the report was stored.
func scanPayload(o *orchestrator.Outcome, testID string) interface{} {
	if o.Overlay != nil {
		return struct {
			TestID string `json:"testId,omitempty"`
			*schemas.OverlayResponse
		}{testID, o.Overlay}
	}
	return struct {
		TestID string `json:"testId,omitempty"`
		*schemas.ScanResponse
	}{testID, o.Scan}
}

func outcomeHTML(o *orchestrator.Outcome) string {
	switch {
	case o.Overlay != nil:
		return o.Overlay.AnnotatedHTML
	case o.Scan != nil && o.Scan.Snapshot != nil:
		return o.Scan.Snapshot.HTML
	}
	return ""
}

// writeOutput writes to path, or to stdout when path is empty.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	observability.GetLogger().Info("Output written", zap.String("path", path))
	return nil
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
