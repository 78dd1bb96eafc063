// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newBufferLogger(buf *bytes.Buffer) logging.Logger {
	return NewZerologLogger(zerolog.New(buf).Level(zerolog.TraceLevel))
}

func readLogLine(t *testing.T, buf *bytes.Buffer) logLine {
	var line logLine
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestZerologLogger_Message(t *testing.T) {
	tests := []struct {
		name      string
		level     slog.Level
		msg       string
		args      []any
		wantLevel string
		wantMsg   string
	}{
		{"debug", logging.LevelDebug, "usage", nil, "debug", "usage"},
		{"info", logging.LevelInfo, "pair %d of %d", []any{1, 2}, "info", "pair 1 of 2"},
		{"warn", logging.LevelWarn, "dropping model", nil, "warn", "dropping model"},
		{"error", logging.LevelError, "failed", nil, "error", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newBufferLogger(&buf)

			logger.Message(context.Background(), tt.level, tt.msg, tt.args...)

			line := readLogLine(t, &buf)
			assert.Equal(t, tt.wantLevel, line.Level)
			assert.Equal(t, tt.wantMsg, line.Message)
		})
	}
}

func TestZerologLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.Error(context.Background(), logging.LevelWarn, errors.ErrUnsupported, "error occurred with code: %d", 500)

	line := readLogLine(t, &buf)
	assert.Equal(t, "warn", line.Level)
	assert.Equal(t, "error occurred with code: 500", line.Message)
	assert.Equal(t, errors.ErrUnsupported.Error(), line.Error)
}

func TestZerologLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	contextLogger := logger.WithContext("level1: ").WithContext("level2: ")
	assert.NotSame(t, logger, contextLogger, "WithContext should return a new logger instance")

	contextLogger.Message(context.Background(), logging.LevelInfo, "test message")
	assert.Equal(t, "level1: level2: test message", readLogLine(t, &buf).Message)

	buf.Reset()
	logger.Message(context.Background(), logging.LevelInfo, "test message")
	assert.Equal(t, "test message", readLogLine(t, &buf).Message, "parent prefix must be unchanged")
}
