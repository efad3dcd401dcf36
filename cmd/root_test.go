package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/mocks"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
)

// executeRoot runs a fresh command tree with args and returns its stdout.
func executeRoot(t *testing.T, factory *mocks.MockComponentFactory, provider *mocks.MockStoreProvider, args ...string) (string, error) {
	t.Helper()
	// Keep a stray config.yaml in the working directory out of the test.
	chdir(t, t.TempDir())

	root := newRootCommand(factory, provider)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := executeRoot(t, nil, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "a11yscan "+Version+"\n", out)
}

func TestScanCommand_FlagsOverrideConfig(t *testing.T) {
	scanner := new(mocks.MockScanner)
	factory := new(mocks.MockComponentFactory)
	factory.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(newComponents(scanner, nil), nil)
	scanner.On("Run", mock.Anything, "https://example.com/", orchestrator.ModeOverlay).Return(overlayOutcome(), nil)

	out, err := executeRoot(t, factory, nil, "scan", "https://example.com/", "--mode", "overlay", "--max-duration", "20s")
	require.NoError(t, err)
	assert.Contains(t, out, `"annotatedHtml"`)

	cfg, ok := factory.Calls[0].Arguments.Get(1).(config.Interface)
	require.True(t, ok)
	scan := cfg.Scan()
	assert.Equal(t, "overlay", scan.DefaultMode)
	assert.Equal(t, 20*time.Second, scan.MaxDuration)
	scanner.AssertExpectations(t)
}

func TestScanCommand_RejectsBadMode(t *testing.T) {
	factory := new(mocks.MockComponentFactory)
	_, err := executeRoot(t, factory, nil, "scan", "https://example.com/", "--mode", "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan.default_mode")
	factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestScanCommand_RequiresURL(t *testing.T) {
	_, err := executeRoot(t, new(mocks.MockComponentFactory), nil, "scan")
	assert.ErrorContains(t, err, "accepts 1 arg(s)")
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		chdir(t, t.TempDir())
		cfg, err := loadConfig(viper.New(), "")
		require.NoError(t, err)
		assert.Equal(t, ":5000", cfg.Server().Addr)
		assert.Equal(t, "snapshot", cfg.Scan().DefaultMode)
		assert.Equal(t, 45*time.Second, cfg.Scan().MaxDuration)
	})

	t.Run("file and environment", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a11y.yaml")
		yaml := "server:\n  addr: \":8080\"\nscan:\n  default_mode: overlay\naudit:\n  standard: WCAG2A\n"
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
		t.Setenv("A11Y_SERVER_ADDR", ":9090")
		t.Setenv("A11Y_DATABASE_URL", "postgres://localhost/a11y")

		cfg, err := loadConfig(viper.New(), path)
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Server().Addr, "the environment wins over the file")
		assert.Equal(t, "overlay", cfg.Scan().DefaultMode)
		assert.Equal(t, "WCAG2A", cfg.Audit().Standard)
		assert.Equal(t, "postgres://localhost/a11y", cfg.Database().URL)
	})

	t.Run("unreadable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
		_, err := loadConfig(viper.New(), path)
		assert.ErrorContains(t, err, "error reading config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("A11Y_AUDIT_STANDARD", "Section508")
		_, err := loadConfig(viper.New(), "")
		assert.ErrorContains(t, err, "unsupported standard")
	})
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.EqualError(t, err, "configuration not loaded")
}
