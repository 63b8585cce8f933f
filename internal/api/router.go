// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/photoarena/winnerd/internal/logging"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RateLimit is requests per minute per client IP on the API routes.
	RateLimit int
}

// DefaultServerConfig returns HTTP defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimit:       120,
	}
}

// NewRouter builds the route tree. Health and metrics stay outside the
// rate limit so monitoring never competes with operator traffic.
func NewRouter(cfg ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	operator := func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))

		r.Get("/stats", h.Stats)
		r.Post("/trigger-winner-selection", h.TriggerAll)
		r.Post("/trigger-winner-selection/{competitionID}", h.TriggerOne)
	}
	r.Group(operator)
	// Versioned aliases for clients that prefix API paths.
	r.Route("/api/v1", operator)

	return r
}

// requestLogger logs each request at debug with method, path, status,
// and duration. Health and metrics polls stay out of the info level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

// Server runs the HTTP listener under the supervision tree.
type Server struct {
	config  ServerConfig
	handler http.Handler
}

// NewServer creates the HTTP server service.
func NewServer(cfg ServerConfig, handler http.Handler) *Server {
	return &Server{config: cfg, handler: handler}
}

// Serve listens until the context is canceled, then shuts down
// gracefully. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.config.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
		return err
	}
	return ctx.Err()
}

// String identifies the server in supervisor logs.
func (s *Server) String() string {
	return "api.Server"
}
