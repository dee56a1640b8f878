// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chaingraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":12220".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the gin engine with middleware, /metrics and the API
// routes.
//
// Middleware order: panic recovery, tracing, request id, HTTP metrics.
// /metrics is mounted only when the prometheus exporter is active.
func NewRouter(handlers *Handlers, serviceName string) (*gin.Engine, error) {
	if serviceName == "" {
		serviceName = "chaingraph"
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter("chaingraph.http"))
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		telemetry.Tracing(serviceName),
		telemetry.RequestID(),
		telemetry.HTTPMetricsMiddleware(httpMetrics),
	)

	if h := telemetry.MetricsHandler(); h != nil {
		r.GET("/metrics", gin.WrapH(h))
	}

	RegisterRoutes(r.Group("/v1"), handlers)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Code:    CodeNotFound,
			Details: map[string]any{"path": c.Request.URL.Path},
		})
	})
	return r, nil
}

// Serve runs the router on cfg.Addr until ctx is canceled, then shuts
// down gracefully.
//
// Outputs:
//
//	error - nil after a clean shutdown, otherwise the listen or shutdown
//	error.
func Serve(ctx context.Context, cfg ServerConfig, router http.Handler) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so streaming handlers return
		// before Shutdown waits on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
