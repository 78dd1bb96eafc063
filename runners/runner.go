// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package runners executes the cross-product of requested models and test cases
// and assembles the aggregate result.
package runners

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/petmal/playgroundtester/config"
)

// Runner executes orchestration requests.
type Runner interface {
	// Run executes every requested (model, test) pair and returns the aggregate result.
	// Invalid requests fail with *ValidationError before any pair is started.
	Run(ctx context.Context, request Request) (RunResult, error)
	// Close releases resources when the runner is no longer needed.
	Close(ctx context.Context)
}

// Request selects the models and tests to run.
type Request struct {
	// Models are the ids of the models to run.
	Models []string `json:"models"`
	// Tests are the keys of the test cases to run.
	Tests []string `json:"tests"`
	// ConfirmerModel is the id of the model judging the responses. The configured default is used when blank.
	ConfirmerModel string `json:"confirmer_model,omitempty"`
	// Deployment optionally points the SEMOSS provider at another instance for this request only.
	Deployment *config.SEMOSSClientConfig `json:"deployment,omitempty"`
}

// StandardResponse is the normalized result of running one (model, test) pair.
type StandardResponse struct {
	ModelName string `json:"model_name"`
	ModelID   string `json:"model_id"`
	Client    string `json:"client"`
	// Response is the model's answer, or the failure message if the pair failed.
	Response string `json:"response"`
	Success  bool   `json:"success"`
	// Pixel lists the pixel commands issued while running the pair, in order.
	Pixel []string `json:"pixel"`
	// ConfirmationResponse is the confirmer's rationale; absent when not confirmed.
	ConfirmationResponse *string `json:"confirmation_response,omitempty"`

	// Duration is the wall-clock time spent on the pair.
	Duration time.Duration `json:"-"`
}

// TestResults maps every test key of the library to the pair result, or nil when the pair was not run.
type TestResults map[string]*StandardResponse

// RunResult maps model names to their test results.
type RunResult map[string]TestResults

// Count returns the number of pairs that were run and the number of those that succeeded.
func (r RunResult) Count() (run int, succeeded int) {
	for _, results := range r {
		for _, response := range results {
			if response == nil {
				continue
			}
			run++
			if response.Success {
				succeeded++
			}
		}
	}
	return
}

// ValidationError reports a request that cannot be run as given.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, value := range values {
		quoted[i] = "'" + value + "'"
	}
	return strings.Join(quoted, ", ")
}

type countable int

func pluralize(tokens ...any) []interface{} {
	pluralized := make([]interface{}, 0, 2*len(tokens))
	for _, token := range tokens {
		pluralized = append(pluralized, token)
		if v, ok := any(token).(countable); ok {
			switch v {
			case 1:
				pluralized = append(pluralized, "")
			default:
				pluralized = append(pluralized, "s")
			}
		}
	}

	return pluralized
}
