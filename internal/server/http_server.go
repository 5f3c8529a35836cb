package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/internal/server/handlers"
	"github.com/nmxmxh/reviewqueue/pkg/auth"
	"github.com/nmxmxh/reviewqueue/pkg/logger"
	"github.com/nmxmxh/reviewqueue/pkg/metrics"
)

// RequestIDHeader carries the request id in and out of the server.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a request id to the request context, reusing the caller's
// header when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// NewHandler builds the API handler: review routes behind JWT auth and request ids.
func NewHandler(review *handlers.ReviewableHandler, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	review.Register(mux)
	return RequestID(auth.JWTMiddleware(jwtSecret, mux))
}

// NewMetricsServer serves Prometheus metrics and the health report on addr.
func NewMetricsServer(addr string, healthz http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", healthz)
	return newServer(addr, mux)
}

// NewHTTPServer serves handler on addr.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return newServer(addr, handler)
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second, // Mitigate Slowloris
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, log *zap.Logger, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("server", name), zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Shutting down HTTP server", zap.String("server", name))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
