// Package mocks holds testify mocks of the interfaces commands depend on.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

// -- Config Mock --

// MockConfig mocks config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Audit() config.AuditConfig {
	return m.Called().Get(0).(config.AuditConfig)
}

func (m *MockConfig) Scan() config.ScanConfig {
	return m.Called().Get(0).(config.ScanConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	return m.Called().Get(0).(config.ServerConfig)
}

func (m *MockConfig) Fetch() config.FetchConfig {
	return m.Called().Get(0).(config.FetchConfig)
}

// -- Scanner Mock --

// MockScanner mocks service.Scanner.
type MockScanner struct {
	mock.Mock
}

var _ service.Scanner = (*MockScanner)(nil)

func (m *MockScanner) Run(ctx context.Context, rawURL string, mode orchestrator.Mode) (*orchestrator.Outcome, error) {
	args := m.Called(ctx, rawURL, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Outcome), args.Error(1)
}

func (m *MockScanner) Flash(ctx context.Context, rawURL string) (*orchestrator.FlashResult, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.FlashResult), args.Error(1)
}

func (m *MockScanner) Annotate(ctx context.Context, rawURL string, findings []schemas.Finding) (string, error) {
	args := m.Called(ctx, rawURL, findings)
	return args.String(0), args.Error(1)
}

// -- Component Factory Mock --

// MockComponentFactory mocks service.ComponentFactory.
type MockComponentFactory struct {
	mock.Mock
}

var _ service.ComponentFactory = (*MockComponentFactory)(nil)

func (m *MockComponentFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	args := m.Called(ctx, cfg, logger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Components), args.Error(1)
}

// -- Store Mock --

// MockRepository mocks store.Repository.
type MockRepository struct {
	mock.Mock
}

var _ store.Repository = (*MockRepository)(nil)

func (m *MockRepository) Add(ctx context.Context, r *schemas.Report) (string, error) {
	args := m.Called(ctx, r)
	return args.String(0), args.Error(1)
}

// FindByTestID returns nil, nil when the expectation was set with a nil report.
func (m *MockRepository) FindByTestID(ctx context.Context, testID string) (*schemas.Report, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Report), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, id string, fields store.ReportUpdate) error {
	return m.Called(ctx, id, fields).Error(0)
}

// MockStoreProvider opens a repository for commands that only read reports.
type MockStoreProvider struct {
	mock.Mock
}

func (m *MockStoreProvider) Create(ctx context.Context, cfg config.Interface) (store.Repository, func(), error) {
	args := m.Called(ctx, cfg)
	var cleanup func()
	if fn, ok := args.Get(1).(func()); ok {
		cleanup = fn
	}
	if args.Get(0) == nil {
		return nil, cleanup, args.Error(2)
	}
	return args.Get(0).(store.Repository), cleanup, args.Error(2)
}
