// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package testutils

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/rs/zerolog"
)

// TestLogger routes log output through the test framework so it is attached to the
// running test. Every formatted message is also kept so tests can assert on it.
type TestLogger struct {
	logger zerolog.Logger
	prefix string
	sink   *messageSink
}

type messageSink struct {
	mu       sync.Mutex
	messages []string
}

// NewTestLogger creates a new TestLogger that outputs to the test framework.
func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{
		logger: zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.TraceLevel),
		sink:   &messageSink{},
	}
}

// Messages returns all messages logged so far, including those of derived loggers.
func (tl *TestLogger) Messages() []string {
	tl.sink.mu.Lock()
	defer tl.sink.mu.Unlock()
	return append([]string(nil), tl.sink.messages...)
}

func (tl *TestLogger) event(level slog.Level) *zerolog.Event {
	switch {
	case level < logging.LevelDebug:
		return tl.logger.Trace()
	case level < logging.LevelInfo:
		return tl.logger.Debug()
	case level < logging.LevelWarn:
		return tl.logger.Info()
	case level < logging.LevelError:
		return tl.logger.Warn()
	default:
		return tl.logger.Error()
	}
}

func (tl *TestLogger) record(msg string) {
	tl.sink.mu.Lock()
	defer tl.sink.mu.Unlock()
	tl.sink.messages = append(tl.sink.messages, msg)
}

// Message logs a message at the specified level with optional formatting arguments.
func (tl *TestLogger) Message(_ context.Context, level slog.Level, msg string, args ...any) {
	formatted := tl.prefix + fmt.Sprintf(msg, args...)
	tl.record(formatted)
	tl.event(level).Msg(formatted)
}

// Error logs an error message at the specified level with optional formatting arguments.
func (tl *TestLogger) Error(_ context.Context, level slog.Level, err error, msg string, args ...any) {
	formatted := tl.prefix + fmt.Sprintf(msg, args...)
	tl.record(formatted)
	tl.event(level).Err(err).Msg(formatted)
}

// WithContext returns a logger sharing the same output whose messages carry the extra prefix.
func (tl *TestLogger) WithContext(context string) logging.Logger {
	return &TestLogger{
		logger: tl.logger,
		prefix: tl.prefix + context,
		sink:   tl.sink,
	}
}
