// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package utils contains small helpers for sets, JSON repair and JSON Schema validation.
package utils

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrInvalidJSONSchema is returned when a schema document does not compile.
	ErrInvalidJSONSchema = errors.New("invalid JSON schema")
	// ErrSchemaViolation is returned when a value does not conform to a schema.
	ErrSchemaViolation = errors.New("value does not conform to schema")
	// ErrRepairJSON is returned when text cannot be turned into valid JSON.
	ErrRepairJSON = errors.New("failed to repair JSON")
)

const schemaResourceName = "inline-schema.json"

var markdownJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Ptr returns a pointer to the given value.
func Ptr[T any](value T) *T {
	return &value
}

// NoPanic runs fn and converts a panic into an error.
func NoPanic(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// JSONFromMarkdown returns the contents of the first fenced code block in content,
// or content itself when there is none.
func JSONFromMarkdown(content string) string {
	if match := markdownJSONBlock.FindStringSubmatch(content); len(match) > 1 {
		return match[1]
	}
	return content
}

// RepairTextJSON extracts JSON from free-form model output and repairs common defects
// such as unescaped newlines, trailing commas or missing closing brackets.
func RepairTextJSON(content string) (string, error) {
	candidate := strings.TrimSpace(JSONFromMarkdown(content))
	if candidate == "" {
		return "", fmt.Errorf("%w: empty content", ErrRepairJSON)
	}
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRepairJSON, err)
	}
	return repaired, nil
}

// CompileSchema compiles a JSON Schema given as a generic document.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	doc, err := toJSONDocument(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSONSchema, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResourceName, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSONSchema, err)
	}
	compiled, err := compiler.Compile(schemaResourceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSONSchema, err)
	}
	return compiled, nil
}

// ValidateAgainstSchema compiles schema and validates each value against it.
func ValidateAgainstSchema(schema map[string]any, values ...any) error {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	for _, value := range values {
		doc, err := toJSONDocument(value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
		if err := compiled.Validate(doc); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}
	return nil
}

// ValidateJSONText repairs text into JSON when needed and validates it against schema.
func ValidateJSONText(schema map[string]any, text string) error {
	repaired, err := RepairTextJSON(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	var value any
	if err := json.Unmarshal([]byte(repaired), &value); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return ValidateAgainstSchema(schema, value)
}

// toJSONDocument normalizes a Go value (possibly decoded from YAML) into the
// representation expected by the schema validator.
func toJSONDocument(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
