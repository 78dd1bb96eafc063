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

	"github.com/petmal/playgroundtester/runners"
)

// NewLogFormatter creates a new formatter that outputs detailed results as an ASCII table.
// Pairs that were not run are left out.
func NewLogFormatter() Formatter {
	return &logFormatter{}
}

type logFormatter struct{}

func (f logFormatter) FileExt() string {
	return "log"
}

func (f logFormatter) Write(result runners.RunResult, out io.Writer) error {
	tab := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.Debug)
	defer tab.Flush()
	if _, err := fmt.Fprintln(tab, "Model\tClient\tTest\tStatus\tDuration\tPixels\tResponse\tConfirmation\t"); err != nil {
		return fmt.Errorf("%w: %v", ErrPrintResults, err)
	}

	return ForEachOrdered(result, func(model string, tests runners.TestResults) error {
		return ForEachOrdered(tests, func(test string, response *runners.StandardResponse) error {
			if response == nil {
				return nil
			}
			confirmation := ""
			if response.ConfirmationResponse != nil {
				confirmation = oneLine(*response.ConfirmationResponse)
			}
			if _, err := fmt.Fprintf(tab, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
				model, response.Client, test, ToStatus(response), RoundToMS(response.Duration),
				len(response.Pixel), oneLine(response.Response), confirmation); err != nil {
				return fmt.Errorf("%w: %v", ErrPrintResults, err)
			}
			return nil
		})
	})
}
