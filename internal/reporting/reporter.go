// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
)

// Reporter writes stored scan reports to an output.
type Reporter interface {
	// Write adds one report.
	Write(report *schemas.Report) error
	// Close finalizes the output and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Formats lists the supported output formats.
var Formats = []string{"json", "sarif"}

// New creates a reporter for format writing to outputPath, or to stdout when
// outputPath is empty or "stdout".
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if format != "json" && format != "sarif" {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "sarif" {
		return NewSARIFReporter(writer, toolVersion, logger), nil
	}
	return NewJSONReporter(writer, logger), nil
}
