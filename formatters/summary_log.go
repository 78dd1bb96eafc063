// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package formatters

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/petmal/playgroundtester/runners"
)

// NewSummaryLogFormatter creates a new formatter that outputs results as an ASCII table summary.
func NewSummaryLogFormatter() Formatter {
	return &summaryLogFormatter{}
}

type summaryLogFormatter struct{}

func (f summaryLogFormatter) FileExt() string {
	return "summary.log"
}

type modelSummary struct {
	passed   int
	failed   int
	skipped  int
	duration time.Duration
}

// PassRate returns the ratio of passed pairs among the pairs that were run.
func (s modelSummary) PassRate() float64 {
	if run := s.passed + s.failed; run > 0 {
		return float64(s.passed) / float64(run)
	}
	return 0
}

func summarize(tests runners.TestResults) (summary modelSummary) {
	for _, response := range tests {
		switch ToStatus(response) {
		case Passed:
			summary.passed++
		case Failed:
			summary.failed++
		default:
			summary.skipped++
		}
		if response != nil {
			summary.duration += response.Duration
		}
	}
	return
}

func (f summaryLogFormatter) Write(result runners.RunResult, out io.Writer) error {
	tab := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.Debug)
	defer tab.Flush()
	if _, err := fmt.Fprintf(tab, "Model\t%s\t%s\t%s\tPass Rate (%%)\tTotal Duration\t\n", Passed, Failed, Skipped); err != nil {
		return fmt.Errorf("%w: %v", ErrPrintResults, err)
	}
	return ForEachOrdered(result, func(model string, tests runners.TestResults) error {
		summary := summarize(tests)
		if _, err := fmt.Fprintf(tab, "%s\t%d\t%d\t%d\t%.2f\t%s\t\n",
			model, summary.passed, summary.failed, summary.skipped,
			Percent(summary.PassRate()), RoundToMS(summary.duration)); err != nil {
			return fmt.Errorf("%w: %v", ErrPrintResults, err)
		}
		return nil
	})
}
