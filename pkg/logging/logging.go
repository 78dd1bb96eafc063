// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package logging defines the leveled logger handed to adapters, confirmers and
// the orchestrator, plus a few helpers for rendering optional values in log lines.
package logging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// Log levels understood by every Logger implementation.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// UnknownLogValue is printed in place of missing values.
const UnknownLogValue = "<unknown>"

// Logger is a printf-style leveled logger.
type Logger interface {
	// Message logs a message at the specified level with optional format arguments.
	Message(ctx context.Context, level slog.Level, msg string, args ...any)

	// Error logs an error at the specified level with optional format arguments.
	Error(ctx context.Context, level slog.Level, err error, msg string, args ...any)

	// WithContext returns a Logger whose messages are prefixed with the current
	// prefix followed by context. The receiver is left unchanged.
	WithContext(context string) Logger
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return discard{}
}

type discard struct{}

func (discard) Message(context.Context, slog.Level, string, ...any)      {}
func (discard) Error(context.Context, slog.Level, error, string, ...any) {}
func (d discard) WithContext(string) Logger                              { return d }

// FormatLogInt64 formats an optional counter for logging.
func FormatLogInt64(value *int64) string {
	if value != nil {
		return strconv.FormatInt(*value, 10)
	}
	return UnknownLogValue
}

// FormatLogText renders lines as a tab-indented block separated by blank lines.
func FormatLogText(lines []string) string {
	if len(lines) > 0 {
		return "\t" + strings.Join(lines, "\n\n\t")
	}
	return "\t" + UnknownLogValue
}
