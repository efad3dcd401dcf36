package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/mocks"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

func TestRunScanLogic(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	cfg := config.NewDefaultConfig()
	target := "https://example.com/"

	t.Run("snapshot to stdout", func(t *testing.T) {
		scanner := new(mocks.MockScanner)
		factory := new(mocks.MockComponentFactory)
		repo := store.NewMemory()
		factory.On("Create", ctx, cfg, logger).Return(newComponents(scanner, repo), nil)
		scanner.On("Run", ctx, target, orchestrator.ModeSnapshot).Return(snapshotOutcome(), nil)

		var stdout, stderr bytes.Buffer
		opts := scanOptions{URL: target, Mode: orchestrator.ModeSnapshot}
		require.NoError(t, runScan(ctx, logger, cfg, opts, factory, &stdout, &stderr))

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
		assert.NotContains(t, got, "testId")
		assert.Contains(t, got, "meta")
		assert.Equal(t, "<html><body>snapshot</body></html>", got["snapshot"].(map[string]interface{})["html"])
		assert.Empty(t, stderr.String())

		stored, err := repo.FindByTestID(ctx, "anything")
		require.NoError(t, err)
		assert.Nil(t, stored, "nothing is stored without --persist")
		factory.AssertExpectations(t)
		scanner.AssertExpectations(t)
	})

	t.Run("persisted overlay", func(t *testing.T) {
		scanner := new(mocks.MockScanner)
		factory := new(mocks.MockComponentFactory)
		repo := store.NewMemory()
		factory.On("Create", ctx, cfg, logger).Return(newComponents(scanner, repo), nil)
		scanner.On("Run", ctx, target, orchestrator.ModeOverlay).Return(overlayOutcome(), nil)

		var stdout, stderr bytes.Buffer
		opts := scanOptions{URL: target, Mode: orchestrator.ModeOverlay, Persist: true}
		require.NoError(t, runScan(ctx, logger, cfg, opts, factory, &stdout, &stderr))

		var got struct {
			TestID        string `json:"testId"`
			AnnotatedHTML string `json:"annotatedHtml"`
		}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
		require.NotEmpty(t, got.TestID)
		assert.Contains(t, got.AnnotatedHTML, "data-issue-id")
		assert.Contains(t, stderr.String(), "Report stored. Test ID: "+got.TestID)

		stored, err := repo.FindByTestID(ctx, got.TestID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, 1, stored.IssueCount)
		require.NotNil(t, stored.ModifiedHTML)
		assert.Equal(t, got.AnnotatedHTML, *stored.ModifiedHTML)
	})

	t.Run("html only to file", func(t *testing.T) {
		scanner := new(mocks.MockScanner)
		factory := new(mocks.MockComponentFactory)
		factory.On("Create", ctx, cfg, logger).Return(newComponents(scanner, nil), nil)
		scanner.On("Run", ctx, target, orchestrator.ModeSnapshot).Return(snapshotOutcome(), nil)

		path := filepath.Join(t.TempDir(), "snapshot.html")
		var stdout bytes.Buffer
		opts := scanOptions{URL: target, Mode: orchestrator.ModeSnapshot, Output: path, HTMLOnly: true}
		require.NoError(t, runScan(ctx, logger, cfg, opts, factory, &stdout, &bytes.Buffer{}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "<html><body>snapshot</body></html>", string(data))
		assert.Empty(t, stdout.String())
	})

	t.Run("store failure", func(t *testing.T) {
		scanner := new(mocks.MockScanner)
		factory := new(mocks.MockComponentFactory)
		repo := new(mocks.MockRepository)
		factory.On("Create", ctx, cfg, logger).Return(newComponents(scanner, repo), nil)
		scanner.On("Run", ctx, target, orchestrator.ModeSnapshot).Return(snapshotOutcome(), nil)
		repo.On("Add", ctx, mock.AnythingOfType("*schemas.Report")).Return("", errors.New("disk full"))

		var stdout bytes.Buffer
		opts := scanOptions{URL: target, Mode: orchestrator.ModeSnapshot, Persist: true}
		err := runScan(ctx, logger, cfg, opts, factory, &stdout, &bytes.Buffer{})
		assert.ErrorContains(t, err, "failed to store report: disk full")
		assert.Empty(t, stdout.String(), "no result is printed when storing fails")
	})

	t.Run("factory failure", func(t *testing.T) {
		factory := new(mocks.MockComponentFactory)
		factory.On("Create", ctx, cfg, logger).Return(nil, errors.New("no chrome"))

		err := runScan(ctx, logger, cfg, scanOptions{URL: target}, factory, &bytes.Buffer{}, &bytes.Buffer{})
		assert.EqualError(t, err, "failed to initialize scan components: no chrome")
	})

	t.Run("scan failure keeps its code", func(t *testing.T) {
		scanner := new(mocks.MockScanner)
		factory := new(mocks.MockComponentFactory)
		factory.On("Create", ctx, cfg, logger).Return(newComponents(scanner, nil), nil)
		scanErr := schemas.NewScanError(schemas.ErrPageLoadTimeout, "", errors.New("navigation timeout"))
		scanner.On("Run", ctx, target, orchestrator.ModeSnapshot).Return(nil, scanErr)

		err := runScan(ctx, logger, cfg, scanOptions{URL: target, Mode: orchestrator.ModeSnapshot}, factory, &bytes.Buffer{}, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "scan failed: "))
		assert.Equal(t, schemas.ErrPageLoadTimeout, orchestrator.Classify(err))
	})
}
