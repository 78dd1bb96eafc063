// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/petmal/playgroundtester/registry"
	"github.com/petmal/playgroundtester/runners"
	"github.com/petmal/playgroundtester/version"
)

type rootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type modelsAndTestsResponse struct {
	Models         []registry.Model `json:"models"`
	AvailableTests []string         `json:"available_tests"`
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, rootResponse{
		Service: version.ServiceName,
		Version: version.GetVersion(),
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) handleModelsAndTests(c echo.Context) error {
	return c.JSON(http.StatusOK, modelsAndTestsResponse{
		Models:         s.catalog.ListModels(),
		AvailableTests: s.catalog.ListTestKeys(),
	})
}

func (s *Server) handleRunTests(c echo.Context) error {
	var request runners.Request
	if err := c.Bind(&request); err != nil {
		return err
	}
	result, err := s.runner.Run(c.Request().Context(), request)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
