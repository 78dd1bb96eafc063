// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package formatters renders run results for the command line.
package formatters

import (
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/petmal/playgroundtester/pkg/utils"
	"github.com/petmal/playgroundtester/runners"
)

const (
	// Passed is the status of a successful pair.
	Passed = "PASSED"
	// Failed is the status of an unsuccessful pair.
	Failed = "FAILED"
	// Skipped is the status of a pair that was not run.
	Skipped = "SKIPPED"
)

const maxCellLength = 80

// ErrPrintResults indicates that result formatting failed.
var ErrPrintResults = errors.New("failed to print formatted results")

// Formatter handles converting results into specific output formats.
type Formatter interface {
	// FileExt returns the formatter's file extension.
	FileExt() string
	// Write outputs formatted results to the writer.
	Write(result runners.RunResult, out io.Writer) error
}

// ToStatus returns the display status of a pair result.
func ToStatus(response *runners.StandardResponse) string {
	switch {
	case response == nil:
		return Skipped
	case response.Success:
		return Passed
	default:
		return Failed
	}
}

// RoundToMS rounds the duration to milliseconds.
func RoundToMS(value time.Duration) time.Duration {
	return value.Round(time.Millisecond)
}

// Percent converts a ratio to a percentage.
func Percent(ratio float64) float64 {
	return ratio * 100
}

// ForEachOrdered calls fn for every entry of m in key order and stops on the first error.
func ForEachOrdered[V any](m map[string]V, fn func(key string, value V) error) error {
	for _, key := range utils.SortedKeys(m) {
		if err := fn(key, m[key]); err != nil {
			return err
		}
	}
	return nil
}

// oneLine collapses whitespace and truncates text to fit a table cell.
func oneLine(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxCellLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxCellLength-3]) + "..."
}
