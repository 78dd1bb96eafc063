// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/testutils"
	"github.com/petmal/playgroundtester/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	semossAccessKey = "access"
	semossSecretKey = "secret"
)

// pixelBackend answers runPixel calls by the prefix of the submitted expression.
type pixelBackend struct {
	mu          sync.Mutex
	expressions []string
	insights    []string
	outputs     map[string]string
}

func (b *pixelBackend) respond(r *http.Request) (int, []byte) {
	user, password, ok := r.BasicAuth()
	if !ok || user != semossAccessKey || password != semossSecretKey {
		return http.StatusUnauthorized, []byte(`{"errorMessage":"not authorized"}`)
	}
	if err := r.ParseForm(); err != nil {
		return http.StatusBadRequest, nil
	}
	expression := r.PostForm.Get("expression")

	b.mu.Lock()
	b.expressions = append(b.expressions, expression)
	b.insights = append(b.insights, r.PostForm.Get("insightId"))
	b.mu.Unlock()

	if expression == newInsightPixel {
		return http.StatusOK, []byte(`{"insightID":"insight-1","pixelReturn":[{"output":true,"operationType":["OPERATION"]}]}`)
	}
	for prefix, output := range b.outputs {
		if strings.HasPrefix(expression, prefix) {
			return http.StatusOK, []byte(output)
		}
	}
	return http.StatusOK, []byte(`{"insightID":"insight-1","pixelReturn":[{"output":"unknown pixel","operationType":["ERROR"]}]}`)
}

func pixelReturn(output string) string {
	return fmt.Sprintf(`{"insightID":"insight-1","pixelReturn":[{"output":%s,"operationType":["OPERATION"]}]}`, output)
}

func newSEMOSSBackend(t *testing.T, outputs map[string]string) (*SEMOSS, *pixelBackend) {
	backend := &pixelBackend{outputs: outputs}
	server := testutils.CreateMockServer(t, map[string]testutils.MockHTTPResponse{
		runPixelPath: {Respond: backend.respond},
	})
	return NewSEMOSS(config.SEMOSSClientConfig{
		Endpoint:  server.URL + "/",
		AccessKey: semossAccessKey,
		SecretKey: semossSecretKey,
	}), backend
}

var playgroundModel = registry.Entry{
	Model:    registry.Model{ID: "model-1", Name: "Playground LLM", Client: config.SEMOSS, Type: "CHAT"},
	Provider: config.SEMOSS,
}

func TestSEMOSSRunText(t *testing.T) {
	provider, backend := newSEMOSSBackend(t, map[string]string{
		"CreateRoom(":    pixelReturn(`{"roomId":"room-1"}`),
		"AskPlayground(": pixelReturn(`{"responseMessage":{"content":"Paris"}}`),
	})
	test := config.TestCase{
		Key:     "standard_text_test",
		Kind:    config.KindText,
		Prompt:  "What is the capital of France?",
		Context: "Answer in one word.",
	}

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
	require.NoError(t, err)
	assert.Equal(t, "Paris", result.Text)
	assert.Equal(t, []string{
		CreateRoomPixel,
		`AskPlayground(roomId=["room-1"], engine=["model-1"], command=["<encode>What is the capital of France?</encode>"], context=["<encode>Answer in one word.</encode>"])`,
	}, result.GetPixels())
	assert.Equal(t, []string{"What is the capital of France?"}, result.GetPrompts())
	assert.Equal(t, config.SEMOSS, provider.Name())

	// The insight is created once and reused.
	_, err = provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
	require.NoError(t, err)
	assert.Equal(t, 1, countOf(backend.expressions, newInsightPixel))
	assert.Equal(t, []string{"new", "insight-1", "insight-1", "insight-1", "insight-1"}, backend.insights)

	require.NoError(t, provider.Close(context.Background()))
}

func TestSEMOSSRunParams(t *testing.T) {
	provider, _ := newSEMOSSBackend(t, map[string]string{
		"CreateRoom(":    pixelReturn(`{"roomId":"room-1"}`),
		"AskPlayground(": pixelReturn(`{"responseMessage":{"content":"ok"}}`),
	})
	test := config.TestCase{
		Key:    "param_test",
		Kind:   config.KindParams,
		Prompt: "Say ok",
		Params: &config.GenerationParams{Temperature: testutils.Ptr(0.5), MaxTokens: testutils.Ptr(int64(10))},
	}

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
	require.NoError(t, err)
	require.Len(t, result.GetPixels(), 2)
	assert.Contains(t, result.GetPixels()[1], `paramValues=[{"max_tokens": 10, "temperature": 0.5}]`)
}

func TestSEMOSSRunToolCall(t *testing.T) {
	provider, _ := newSEMOSSBackend(t, map[string]string{
		"CreateRoom(":       pixelReturn(`{"roomId":"room-1"}`),
		"AskPlayground(":    pixelReturn(`{"responseMessage":{"content":"","tool_responses":[{"id":"call-1","arguments":"{\"city\":\"Paris\"}"}]}}`),
		"RunMCPTool(":       pixelReturn(`{"temperature":20}`),
		"AddToolExecution(": pixelReturn(`{"response":"It is 20 degrees in Paris."}`),
	})
	test := config.TestCase{
		Key:    "tool_test",
		Kind:   config.KindToolCalling,
		Prompt: "What is the weather in Paris?",
		Tool:   &config.ToolDefinition{Name: "get_weather", MCPToolID: "weather-tool", ToolChoice: "required"},
	}

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
	require.NoError(t, err)
	assert.Equal(t, "It is 20 degrees in Paris.", result.Text)
	assert.Equal(t, []string{
		CreateRoomPixel,
		`AskPlayground(roomId=["room-1"], engine=["model-1"], command=["<encode>What is the weather in Paris?</encode>"], mcpToolID=["weather-tool"], paramValues=[{"tool_choice": {"type":"REQUIRED"}}])`,
		`RunMCPTool(project=["weather-tool"], function=["get_weather"], paramValues=[{"city":"Paris"}])`,
		`AddToolExecution(engine=["model-1"], roomId=["room-1"], toolId=["call-1"], toolName=["get_weather"], tool_execution_response=[{"temperature":20}])`,
	}, result.GetPixels())
}

func TestSEMOSSRunFailures(t *testing.T) {
	test := config.TestCase{Key: "standard_text_test", Kind: config.KindText, Prompt: "Hi"}

	tests := []struct {
		name       string
		outputs    map[string]string
		wantKind   ErrorKind
		wantErr    error
		wantPixels int
	}{
		{
			name: "pixel error",
			outputs: map[string]string{
				"CreateRoom(":    pixelReturn(`{"roomId":"room-1"}`),
				"AskPlayground(": `{"insightID":"insight-1","pixelReturn":[{"output":"engine not found","operationType":["ERROR"]}]}`,
			},
			wantKind:   MalformedRequest,
			wantErr:    ErrPixelFailed,
			wantPixels: 2,
		},
		{
			name: "missing room id",
			outputs: map[string]string{
				"CreateRoom(": pixelReturn(`{}`),
			},
			wantKind:   Unknown,
			wantErr:    ErrUnexpectedPixelOutput,
			wantPixels: 1,
		},
		{
			name: "empty content",
			outputs: map[string]string{
				"CreateRoom(":    pixelReturn(`{"roomId":"room-1"}`),
				"AskPlayground(": pixelReturn(`{"responseMessage":{"content":""}}`),
			},
			wantKind:   Unknown,
			wantErr:    ErrEmptyResponse,
			wantPixels: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, _ := newSEMOSSBackend(t, tt.outputs)
			result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Len(t, result.GetPixels(), tt.wantPixels)
		})
	}
}

func TestSEMOSSRenewsInsightAfterPixelError(t *testing.T) {
	provider, backend := newSEMOSSBackend(t, map[string]string{
		"CreateRoom(":    pixelReturn(`{"roomId":"room-1"}`),
		"AskPlayground(": `{"insightID":"insight-1","pixelReturn":[{"output":"insight not found","operationType":["ERROR"]}]}`,
	})
	test := config.TestCase{Key: "standard_text_test", Kind: config.KindText, Prompt: "Hi"}

	_, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
	require.ErrorIs(t, err, ErrPixelFailed)

	backend.mu.Lock()
	backend.outputs["AskPlayground("] = pixelReturn(`{"responseMessage":{"content":"Hello"}}`)
	backend.mu.Unlock()

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel, test)
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, 2, countOf(backend.expressions, newInsightPixel))
	assert.Equal(t, []string{"new", "insight-1", "insight-1", "new", "insight-1", "insight-1"}, backend.insights)
}

func TestSEMOSSRejectedCredentials(t *testing.T) {
	backend := &pixelBackend{}
	server := testutils.CreateMockServer(t, map[string]testutils.MockHTTPResponse{
		runPixelPath: {Respond: backend.respond},
	})
	provider := NewSEMOSS(config.SEMOSSClientConfig{Endpoint: server.URL, AccessKey: "wrong", SecretKey: "wrong"})

	result, err := provider.Run(context.Background(), testutils.NewTestLogger(t), playgroundModel,
		config.TestCase{Key: "standard_text_test", Kind: config.KindText, Prompt: "Hi"})
	require.Error(t, err)
	assert.Equal(t, AuthFailure, KindOf(err))
	assert.NotErrorIs(t, err, ErrRetryable)
	assert.Empty(t, result.GetPixels())
}

func TestSEMOSSArgumentsJSON(t *testing.T) {
	tests := []struct {
		name      string
		arguments string
		want      string
	}{
		{name: "encoded string", arguments: `"{\"a\":1}"`, want: `{"a":1}`},
		{name: "object", arguments: `{"a":1}`, want: `{"a":1}`},
		{name: "invalid string", arguments: `"oops"`, want: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, semossToolResponse{Arguments: []byte(tt.arguments)}.argumentsJSON())
		})
	}
}

func countOf(values []string, value string) (n int) {
	for _, v := range values {
		if v == value {
			n++
		}
	}
	return n
}
