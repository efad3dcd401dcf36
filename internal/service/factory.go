package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
)

// ComponentFactory creates the set of components a command runs with. The
// interface lets commands be tested without a browser or a database.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	dependencies func(cfg config.Interface, logger *zap.Logger) orchestrator.Dependencies
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{dependencies: orchestrator.NewDependencies}
}

// Create opens the report store and builds the orchestrator. Anything opened
// before a failure is released again.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (_ *Components, err error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("configuration and logger are required")
	}
	comps := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			comps.Shutdown()
		}
	}()

	repo, closeStore, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report store: %w", err)
	}
	comps.Store, comps.closeStore = repo, closeStore

	orch, err := orchestrator.New(cfg, f.dependencies(cfg, logger), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	comps.Orchestrator = orch
	logger.Debug("Components initialized.", zap.Bool("persistent", comps.Persistent()))
	return comps, nil
}
