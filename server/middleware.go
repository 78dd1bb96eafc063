// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/petmal/playgroundtester/runners"
)

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogURI:      true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := logger.Info()
			if v.Error != nil {
				event = logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// errorHandler renders every failure as {"error": "..."}.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var validationErr *runners.ValidationError
		if errors.As(err, &validationErr) {
			_ = c.JSON(http.StatusBadRequest, errorResponse{Error: validationErr.Reason})
			return
		}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			message := fmt.Sprintf("%v", httpErr.Message)
			if httpErr.Internal != nil {
				message = fmt.Sprintf("%s: %v", message, httpErr.Internal)
			}
			_ = c.JSON(httpErr.Code, errorResponse{Error: message})
			return
		}

		logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled error")
		_ = c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
