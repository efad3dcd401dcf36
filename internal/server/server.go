// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/orchestrator"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes caps request bodies; every endpoint takes a small JSON object.
const maxBodyBytes = 1 << 20

// Scanner is the scan surface the API drives. *orchestrator.Orchestrator
// implements it.
type Scanner interface {
	Run(ctx context.Context, rawURL string, mode orchestrator.Mode) (*orchestrator.Outcome, error)
	Flash(ctx context.Context, rawURL string) (*orchestrator.FlashResult, error)
	Annotate(ctx context.Context, rawURL string, findings []schemas.Finding) (string, error)
}

var _ Scanner = (*orchestrator.Orchestrator)(nil)

// Server exposes scans over HTTP.
type Server struct {
	cfg     config.ServerConfig
	scanner Scanner
	store   store.Repository
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a Server. A nil repository disables persistence.
func New(cfg config.ServerConfig, scanner Scanner, repo store.Repository, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		scanner: scanner,
		store:   repo,
		logger:  logger.Named("server"),
		now:     time.Now,
		newID:   newTestID,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.correlationMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/test", s.handleLegacyTest)
		r.Post("/test/flash", s.handleFlash)
		r.Post("/test/generate", s.handleGenerate)
		r.Post("/v3/test", s.handleTestV3)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondWithError(w, r, http.StatusNotFound, codeNotFound, "Route not found")
	})
	return r
}

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. In-flight requests get
// ShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("API server listening", zap.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("API server stopped.")
	return err
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 15 * time.Second
}
