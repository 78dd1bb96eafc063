// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package providers implements the model backends a test can be run against.
// Each provider translates a test case into its wire format and returns the
// normalized textual response together with the pixel commands it issued.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
	"golang.org/x/exp/constraints"
)

var (
	// ErrUnknownProviderName is returned when provider name is not recognized.
	ErrUnknownProviderName = errors.New("unknown provider name")
	// ErrCreateClient is returned when provider client initialization fails.
	ErrCreateClient = errors.New("failed to create client")
	// ErrGenerateResponse is returned when response generation fails.
	ErrGenerateResponse = errors.New("failed to generate response")
	// ErrCreatePromptRequest is returned when request generation fails.
	ErrCreatePromptRequest = errors.New("failed to create prompt request")
	// ErrEmptyResponse is returned when the backend answers without any content.
	ErrEmptyResponse = errors.New("empty response")
	// ErrFeatureNotSupported is returned when a requested feature is not supported by the provider.
	ErrFeatureNotSupported = errors.New("feature not supported by provider")
	// ErrImagesNotSupported is returned when the provider cannot accept image input.
	ErrImagesNotSupported = fmt.Errorf("%w: image input", ErrFeatureNotSupported)
	// ErrToolsNotSupported is returned when the provider cannot offer tools to the model.
	ErrToolsNotSupported = fmt.Errorf("%w: tool calling", ErrFeatureNotSupported)
	// ErrRetryable is matched by errors that may succeed when retried.
	ErrRetryable = errors.New("retryable error")
)

// Provider invokes models of one backend.
type Provider interface {
	// Name returns the provider's unique identifier.
	Name() string
	// Run executes a test case against the given model. The returned result carries
	// the pixels issued so far even when an error is returned.
	Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error)
	// Close releases resources when the provider is no longer needed.
	Close(ctx context.Context) error
}

// Usage represents the token usage statistics for a response.
type Usage struct {
	InputTokens  *int64 `json:"-"` // Tokens used by the input if available.
	OutputTokens *int64 `json:"-"` // Tokens used by the output if available.
}

// Result is the normalized outcome of one invocation.
type Result struct {
	// Text is the textual response of the model.
	Text     string
	pixels   []string
	duration time.Duration
	prompts  []string
	usage    Usage
}

// NewResult creates a result with the given text and pixels.
func NewResult(text string, pixels ...string) Result {
	return Result{Text: text, pixels: pixels}
}

// GetPixels returns the pixel commands issued while producing this result, in order.
// The returned slice is never nil.
func (r Result) GetPixels() []string {
	if r.pixels == nil {
		return []string{}
	}
	return r.pixels
}

// GetDuration returns the time duration it took to generate this result.
func (r Result) GetDuration() time.Duration {
	return r.duration
}

// GetPrompts returns the prompts used to generate this result.
func (r Result) GetPrompts() []string {
	return r.prompts
}

// GetUsage returns the token usage statistics for this result.
func (r Result) GetUsage() Usage {
	return r.usage
}

func (r *Result) recordPixel(pixel string) string {
	r.pixels = append(r.pixels, pixel)
	return pixel
}

func (r *Result) recordPrompt(prompt string) string {
	r.prompts = append(r.prompts, prompt)
	return prompt
}

func timed[T any](f func() (T, error), out *time.Duration) (response T, err error) {
	start := time.Now()
	response, err = f()
	*out += time.Since(start)
	return
}

func recordUsage[T constraints.Signed](inputTokens *T, outputTokens *T, out *Usage) {
	addIfNotNil(&out.InputTokens, inputTokens)
	addIfNotNil(&out.OutputTokens, outputTokens)
}

func addIfNotNil[D ~int64, S constraints.Signed](dst **D, src *S) {
	if src != nil {
		if *dst == nil {
			*dst = new(D)
		}
		**dst += D(*src)
	}
}

func logUsage(ctx context.Context, logger logging.Logger, result Result) {
	logger.Message(ctx, logging.LevelDebug, "usage: in=%s out=%s duration=%s",
		logging.FormatLogInt64(result.usage.InputTokens), logging.FormatLogInt64(result.usage.OutputTokens), result.duration)
}

// DefaultToolCallDescription renders a tool call requested by the model as response text.
func DefaultToolCallDescription(name string, arguments string) string {
	return fmt.Sprintf("Tool call requested: %s(%s)", name, arguments)
}

// DefaultStructuredOutputInstruction asks providers without native schema support for JSON output.
func DefaultStructuredOutputInstruction(schema map[string]interface{}) (string, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreatePromptRequest, err)
	}
	return fmt.Sprintf("Respond only with JSON matching this JSON schema: %s", raw), nil
}

// toolParameters returns the JSON schema of the tool arguments, defaulting to an empty object schema.
func toolParameters(tool *config.ToolDefinition) map[string]interface{} {
	if len(tool.Parameters) > 0 {
		return tool.Parameters
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func requiredProperties(schema map[string]interface{}) []string {
	var required []string
	if values, ok := schema["required"].([]interface{}); ok {
		for _, value := range values {
			if name, ok := value.(string); ok {
				required = append(required, name)
			}
		}
	} else if values, ok := schema["required"].([]string); ok {
		required = append(required, values...)
	}
	return required
}
