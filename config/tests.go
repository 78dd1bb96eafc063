// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/petmal/playgroundtester/pkg/utils"
)

// Test kinds. Each test case exercises exactly one of them.
const (
	KindText             = "text"
	KindImageURLs        = "image-urls"
	KindImageBase64      = "image-base64"
	KindParams           = "params"
	KindToolCalling      = "tool-calling"
	KindStructuredOutput = "structured-output"
)

// ErrInvalidTestProperty indicates invalid test case definition.
var ErrInvalidTestProperty = errors.New("invalid test property")

//go:embed defaults/tests.yaml
var defaultTests []byte

// Tests represents the top-level test definition structure.
type Tests struct {
	// TestConfig contains all test case definitions.
	TestConfig TestConfig `yaml:"test-config" validate:"required"`
}

// TestConfig holds the test case library.
type TestConfig struct {
	// Tests is the ordered list of test cases. Individual entries are validated by the registry.
	Tests []TestCase `yaml:"tests" validate:"required"`
}

// GetEnabledTests returns the test cases that are not disabled, in definition order.
func (tc TestConfig) GetEnabledTests() []TestCase {
	enabled := make([]TestCase, 0, len(tc.Tests))
	for _, test := range tc.Tests {
		if !test.Disabled {
			enabled = append(enabled, test)
		}
	}
	return enabled
}

// TestCase is an immutable request template for one test kind.
type TestCase struct {
	// Key is the stable identifier used in run requests and results.
	Key string `yaml:"key" validate:"required"`

	// Kind selects the request shape.
	Kind string `yaml:"kind" validate:"required,oneof=text image-urls image-base64 params tool-calling structured-output"`

	// Prompt is the user message.
	Prompt string `yaml:"prompt" validate:"required"`

	// Context is an optional system instruction.
	Context string `yaml:"context" validate:"omitempty"`

	// ImageURLs are attached to image-urls tests.
	ImageURLs []string `yaml:"image-urls" validate:"required_if=Kind image-urls,dive,url"`

	// ImagesBase64 are attached to image-base64 tests.
	ImagesBase64 []string `yaml:"images-base64" validate:"required_if=Kind image-base64,dive,base64"`

	// Params are generation parameters sent with params tests.
	Params *GenerationParams `yaml:"params" validate:"required_if=Kind params"`

	// Tool describes the tool offered in tool-calling tests.
	Tool *ToolDefinition `yaml:"tool" validate:"required_if=Kind tool-calling"`

	// Schema is the JSON schema the response must satisfy in structured-output tests.
	Schema map[string]interface{} `yaml:"schema" validate:"required_if=Kind structured-output"`

	// Rubric describes what a correct answer contains. Confirmation is skipped without one.
	Rubric string `yaml:"rubric" validate:"omitempty"`

	// Disabled removes the test case from the library.
	Disabled bool `yaml:"disabled" validate:"omitempty"`
}

// RequiresConfirmation reports whether responses to this test are judged by a confirmer.
func (t TestCase) RequiresConfirmation() bool {
	return IsNotBlank(t.Rubric)
}

// Validate checks a single test case definition.
func (t TestCase) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: test '%s': %v", ErrInvalidTestProperty, t.Key, err)
	}
	if t.Kind == KindStructuredOutput {
		if _, err := utils.CompileSchema(t.Schema); err != nil {
			return fmt.Errorf("%w: schema of test '%s': %v", ErrInvalidTestProperty, t.Key, err)
		}
	}
	if t.Tool != nil && len(t.Tool.Parameters) > 0 {
		if _, err := utils.CompileSchema(t.Tool.Parameters); err != nil {
			return fmt.Errorf("%w: tool parameters of test '%s': %v", ErrInvalidTestProperty, t.Key, err)
		}
	}
	for i, image := range t.ImagesBase64 {
		if _, err := base64.StdEncoding.DecodeString(image); err != nil {
			return fmt.Errorf("%w: image %d of test '%s' is not valid base64: %v", ErrInvalidTestProperty, i, t.Key, err)
		}
	}
	return nil
}

// GenerationParams are optional sampling parameters.
type GenerationParams struct {
	// Temperature controls randomness.
	Temperature *float64 `yaml:"temperature" validate:"omitempty,min=0,max=2"`
	// MaxTokens caps the response length.
	MaxTokens *int64 `yaml:"max-tokens" validate:"omitempty,min=1"`
	// TopP controls nucleus sampling.
	TopP *float64 `yaml:"top-p" validate:"omitempty,min=0,max=1"`
}

// ToolDefinition describes a single function tool.
type ToolDefinition struct {
	// Name is the function name.
	Name string `yaml:"name" validate:"required"`
	// Description is shown to the model.
	Description string `yaml:"description"`
	// Parameters is the JSON schema of the function arguments.
	Parameters map[string]interface{} `yaml:"parameters"`
	// MCPToolID identifies the MCP tool project on SEMOSS backends.
	MCPToolID string `yaml:"mcp-tool-id"`
	// ToolChoice is either "auto" or "required".
	ToolChoice string `yaml:"tool-choice" validate:"omitempty,oneof=auto required"`
}

// IsRequired reports whether the model is forced to call the tool.
func (td ToolDefinition) IsRequired() bool {
	return td.ToolChoice == "required"
}

// LoadTestsFromFile reads test case definitions from the specified file path.
// Only the file structure is validated here; invalid entries are dropped by the registry.
func LoadTestsFromFile(ctx context.Context, path string) (*Tests, error) {
	fileContents, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tests file: %w", err)
	}
	return parseTests(fileContents)
}

// LoadDefaultTests returns the built-in test case library.
func LoadDefaultTests() (*Tests, error) {
	return parseTests(defaultTests)
}

func parseTests(in []byte) (*Tests, error) {
	tests := &Tests{}
	if err := yamlUnmarshalStrict(in, tests); err != nil {
		return nil, fmt.Errorf("malformed tests file: %w", err)
	}

	if err := validate.Struct(tests); err != nil {
		return tests, fmt.Errorf("invalid test definition: %w", err)
	}

	return tests, nil
}
