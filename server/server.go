// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package server exposes the orchestration service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/registry"
	"github.com/petmal/playgroundtester/runners"
)

// Catalog lists what can be run.
type Catalog interface {
	ListModels() []registry.Model
	ListTestKeys() []string
}

// Server is the HTTP surface of the orchestration service.
type Server struct {
	Echo *echo.Echo

	cfg     config.ServerConfig
	catalog Catalog
	runner  runners.Runner
	logger  zerolog.Logger
}

// New creates a new Server. Metrics are served from gatherer when it is not nil.
func New(cfg config.ServerConfig, catalog Catalog, runner runners.Runner, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		Echo:    e,
		cfg:     cfg,
		catalog: catalog,
		runner:  runner,
		logger:  logger,
	}
	s.setupMiddlewares()
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupMiddlewares() {
	s.Echo.Use(requestLogger(s.logger))
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.GetCORSOrigins(),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.Echo.GET("/", s.handleRoot)
	api := s.Echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/get-models-and-tests", s.handleModelsAndTests)
	api.POST("/run-tests", s.handleRunTests)
	if gatherer != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Start serves until ctx is done and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf(":%d", s.cfg.GetPort())
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", address).Msg("listening")
		if err := s.Echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
