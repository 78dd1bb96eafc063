// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/testutils"
	"github.com/petmal/playgroundtester/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var openAIModel = registry.Entry{
	Model:       registry.Model{ID: "gpt-4.1", Name: "GPT 4.1", Client: config.OPENAI, Type: "CHAT"},
	Provider:    config.OPENAI,
	TargetModel: "gpt-4.1-2025-04-14",
}

func TestOpenAIRun(t *testing.T) {
	var request map[string]interface{}
	server := testutils.CreateMockServer(t, map[string]testutils.MockHTTPResponse{
		"/chat/completions": {Respond: func(r *http.Request) (int, []byte) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &request)
			return http.StatusOK, []byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1,
				"model": "gpt-4.1-2025-04-14",
				"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Paris"}}],
				"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
			}`)
		}},
	})
	provider := NewOpenAI(config.OpenAIClientConfig{APIKey: "test-key", BaseURL: server.URL})

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), openAIModel, config.TestCase{
		Key:     "param_test",
		Kind:    config.KindParams,
		Prompt:  "What is the capital of France?",
		Context: "Answer in one word.",
		Params:  &config.GenerationParams{Temperature: testutils.Ptr(0.3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", result.Text)
	assert.Empty(t, result.GetPixels())
	assert.Equal(t, []string{"Answer in one word.", "What is the capital of France?"}, result.GetPrompts())
	assert.Equal(t, Usage{InputTokens: testutils.Ptr(int64(12)), OutputTokens: testutils.Ptr(int64(1))}, result.GetUsage())

	assert.Equal(t, "gpt-4.1-2025-04-14", request["model"])
	assert.InDelta(t, 0.3, request["temperature"], 1e-9)
	assert.Len(t, request["messages"], 2)
}

func TestOpenAIRunToolCall(t *testing.T) {
	server := testutils.CreateMockServer(t, map[string]testutils.MockHTTPResponse{
		"/chat/completions": {StatusCode: http.StatusOK, Content: []byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4.1",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": null,
				"tool_calls": [{"id": "call-1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}]}}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25}
		}`)},
	})
	provider := NewOpenAI(config.OpenAIClientConfig{APIKey: "test-key", BaseURL: server.URL})

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), openAIModel, config.TestCase{
		Key:    "tool_test",
		Kind:   config.KindToolCalling,
		Prompt: "What is the weather in Paris?",
		Tool:   &config.ToolDefinition{Name: "get_weather", Description: "Current weather"},
	})
	require.NoError(t, err)
	assert.Equal(t, `Tool call requested: get_weather({"city":"Paris"})`, result.Text)
}

func TestOpenAIRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
		retry    bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: RateLimited, retry: true},
		{name: "bad key", status: http.StatusUnauthorized, wantKind: AuthFailure},
		{name: "bad request", status: http.StatusBadRequest, wantKind: MalformedRequest},
		{name: "server error", status: http.StatusInternalServerError, wantKind: Unknown, retry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutils.CreateMockServer(t, map[string]testutils.MockHTTPResponse{
				"/chat/completions": {StatusCode: tt.status, Content: []byte(`{"error": {"message": "rejected", "type": "error"}}`)},
			})
			provider := NewOpenAI(config.OpenAIClientConfig{APIKey: "test-key", BaseURL: server.URL})

			_, err := provider.Run(context.Background(), testutils.NewTestLogger(t), openAIModel,
				config.TestCase{Key: "standard_text_test", Kind: config.KindText, Prompt: "Hi"})
			require.ErrorIs(t, err, ErrGenerateResponse)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.retry, errors.Is(err, ErrRetryable))
		})
	}
}

func TestOpenAIRunInvalidImage(t *testing.T) {
	provider := NewOpenAI(config.OpenAIClientConfig{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	_, err := provider.Run(context.Background(), testutils.NewTestLogger(t), openAIModel, config.TestCase{
		Key:          "image_base64_test",
		Kind:         config.KindImageBase64,
		Prompt:       "Describe",
		ImagesBase64: []string{"%%%"},
	})
	require.ErrorIs(t, err, ErrCreatePromptRequest)
	assert.Equal(t, MalformedRequest, KindOf(err))
}
