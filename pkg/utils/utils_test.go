// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package utils

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var playersSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"players": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"skill": map[string]any{"type": "integer"},
				},
				"required": []any{"name", "skill"},
			},
		},
	},
	"required": []any{"players"},
}

func TestNoPanic(t *testing.T) {
	tests := []struct {
		name    string
		fn      func() error
		wantErr bool
	}{
		{
			name:    "no panic",
			fn:      func() error { return nil },
			wantErr: false,
		},
		{
			name:    "panic occurs",
			fn:      func() error { panic("something went wrong") },
			wantErr: true,
		},
		{
			name:    "function returns error",
			fn:      func() error { return errors.ErrUnsupported },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NoPanic(tt.fn)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPtr(t *testing.T) {
	p := Ptr(0.7)
	require.NotNil(t, p)
	assert.InDelta(t, 0.7, *p, 1e-9)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestJSONFromMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "fenced json block",
			content: "Here you go: ```json {\"key\": \"value\"} ```",
			want:    "{\"key\": \"value\"}",
		},
		{
			name:    "fenced block without language",
			content: "```\n{\"a\": 1}\n```",
			want:    "{\"a\": 1}",
		},
		{
			name:    "no block",
			content: "plain text",
			want:    "plain text",
		},
		{
			name:    "first of multiple blocks",
			content: "```json {\"k1\": 1} ``` and ```json {\"k2\": 2} ```",
			want:    "{\"k1\": 1}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JSONFromMarkdown(tt.content))
		})
	}
}

func TestRepairTextJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "valid JSON untouched",
			content: `{"key": "value"}`,
			want:    `{"key": "value"}`,
		},
		{
			name:    "missing closing brace",
			content: `{"key": "value"`,
			want:    `{"key": "value"}`,
		},
		{
			name:    "markdown wrapped",
			content: "```json\n{\"confirmed\": true}\n```",
			want:    `{"confirmed": true}`,
		},
		{
			name:    "empty content",
			content: "  ",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairTextJSON(tt.content)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRepairJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, json.Valid([]byte(got)))
		})
	}
}

func TestStringSet(t *testing.T) {
	set := NewStringSet("b", "a", "b", "c")
	assert.Equal(t, []string{"b", "a", "c"}, set.Values())
	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contains("a"))
	assert.False(t, set.Contains("z"))
}

func TestStringSet_JSON(t *testing.T) {
	var set StringSet
	require.NoError(t, json.Unmarshal([]byte(`["x","y","x"]`), &set))
	assert.Equal(t, []string{"x", "y"}, set.Values())

	encoded, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["x","y"]`, string(encoded))

	encoded, err = json.Marshal(StringSet{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(encoded))

	require.ErrorIs(t, json.Unmarshal([]byte(`"x"`), &set), ErrInvalidStringSetValue)
}

func TestValidateAgainstSchema(t *testing.T) {
	tests := []struct {
		name    string
		schema  map[string]any
		values  []any
		wantErr error
	}{
		{
			name:   "valid value",
			schema: playersSchema,
			values: []any{map[string]any{"players": []any{map[string]any{"name": "Bruno", "skill": 88}}}},
		},
		{
			name:   "no values",
			schema: map[string]any{"type": "string"},
		},
		{
			name:    "invalid schema",
			schema:  map[string]any{"type": "invalid_type"},
			values:  []any{"test"},
			wantErr: ErrInvalidJSONSchema,
		},
		{
			name:    "missing required property",
			schema:  playersSchema,
			values:  []any{map[string]any{"team": "United"}},
			wantErr: ErrSchemaViolation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAgainstSchema(tt.schema, tt.values...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateJSONText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{
			name: "conforming output",
			text: `{"players": [{"name": "Bruno Fernandes", "skill": 88}]}`,
		},
		{
			name: "conforming output wrapped in markdown",
			text: "```json\n{\"players\": []}\n```",
		},
		{
			name:    "wrong type",
			text:    `{"players": [{"name": "Bruno Fernandes", "skill": "high"}]}`,
			wantErr: ErrSchemaViolation,
		},
		{
			name:    "empty output",
			text:    "",
			wantErr: ErrSchemaViolation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSONText(playersSchema, tt.text)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
