// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package api assembles and serves the gateway's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/eaglechat/gateway/pkg/api/v1"
	"github.com/eaglechat/gateway/pkg/config"
	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/ratelimit"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second

	// shutdownTimeout bounds the drain of in-flight requests.
	shutdownTimeout = 10 * time.Second
)

// healthPath is exempt from rate limiting.
const healthPath = "/"

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Handler builds the full router: health endpoint, rate limiting, and
// the v1 API. The limiter is owned by the caller via the returned close
// function.
func Handler(cfg *config.Config, deps v1.Deps) (http.Handler, func()) {
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRequests, ratelimit.DefaultWindow)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
		limiter.Middleware(healthPath),
	)

	r.Get(healthPath, healthHandler(cfg))
	r.Mount("/api/v1", v1.Router(deps))

	return r, limiter.Close
}

type healthResponse struct {
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

func healthHandler(cfg *config.Config) http.HandlerFunc {
	body := healthResponse{
		Status:      "ok",
		Title:       cfg.API.Title,
		Description: cfg.API.Description,
		Version:     cfg.API.Version,
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Serve runs the API server on address until ctx is cancelled. The
// caller sets up signal handling.
func Serve(ctx context.Context, address string, cfg *config.Config, deps v1.Deps) error {
	handler, closeLimiter := Handler(cfg, deps)
	defer closeLimiter()

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting HTTP server on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Infof("HTTP server stopped")
	return nil
}
