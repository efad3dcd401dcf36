package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// correlationMiddleware adopts the caller's correlation id or mints one,
// echoes it back and logs the start and end of every request under it.
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger, id := observability.WithCorrelationID(s.logger, r.Header.Get(CorrelationHeader))
		w.Header().Set(CorrelationHeader, id)

		observability.Event(logger, zap.InfoLevel, "request_start",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("userAgent", r.UserAgent()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(observability.ContextWithCorrelationID(r.Context(), id)))

		observability.Event(logger, zap.InfoLevel, "request_complete",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("statusCode", ww.Status()),
			zap.Int64("duration", time.Since(start).Milliseconds()),
		)
	})
}

// requestLogger returns the server logger bound to the request's correlation id.
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	logger, _ := observability.WithCorrelationID(s.logger, observability.CorrelationID(r.Context()))
	return logger
}

// corsMiddleware allows browser clients on other origins to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CorrelationHeader)
		w.Header().Set("Access-Control-Expose-Headers", CorrelationHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
