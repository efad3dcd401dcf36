package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

// Scanner is the scan surface commands drive. *orchestrator.Orchestrator
// implements it.
type Scanner interface {
	Run(ctx context.Context, rawURL string, mode orchestrator.Mode) (*orchestrator.Outcome, error)
	Flash(ctx context.Context, rawURL string) (*orchestrator.FlashResult, error)
	Annotate(ctx context.Context, rawURL string, findings []schemas.Finding) (string, error)
}

var _ Scanner = (*orchestrator.Orchestrator)(nil)

// Components holds everything a command needs to run scans and persist
// their reports, and owns the lifecycle of what it opened.
type Components struct {
	Config       config.Interface
	Logger       *zap.Logger
	Orchestrator Scanner
	Store        store.Repository

	// closeStore releases the database pool, if one was opened.
	closeStore func()
}

// Persistent reports whether reports survive the process.
func (c *Components) Persistent() bool {
	_, inMemory := c.Store.(*store.Memory)
	return c.Store != nil && !inMemory
}

// Shutdown releases the resources held by the components. It is safe to call
// more than once and on partially initialized components.
func (c *Components) Shutdown() {
	if c == nil {
		return
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.closeStore != nil {
		c.closeStore()
		c.closeStore = nil
		logger.Debug("Report store closed.")
	}
	logger.Debug("All components shut down.")
}
