// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
)

const (
	runPixelPath       = "/engine/runPixel"
	newInsightPixel    = "META | true"
	pixelErrorOperator = "ERROR"
)

var (
	// ErrPixelFailed is returned when the backend reports an error for a pixel.
	ErrPixelFailed = errors.New("pixel execution failed")
	// ErrUnexpectedPixelOutput is returned when pixel output cannot be interpreted.
	ErrUnexpectedPixelOutput = errors.New("unexpected pixel output")
)

// NewSEMOSS creates a new SEMOSS playground provider.
func NewSEMOSS(cfg config.SEMOSSClientConfig) *SEMOSS {
	return &SEMOSS{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{},
	}
}

// SEMOSS drives models hosted by a SEMOSS deployment through pixel commands.
type SEMOSS struct {
	endpoint   string
	accessKey  string
	secretKey  string
	httpClient *http.Client

	insightMu sync.Mutex
	insightID string
}

func (o *SEMOSS) Name() string {
	return config.SEMOSS
}

func (o *SEMOSS) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error) {
	defer func() {
		err = classifyError(err, nil)
	}()

	room, err := o.runPixel(ctx, logger, &result, CreateRoomPixel)
	if err != nil {
		return result, err
	}
	var createRoomOutput struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(room, &createRoomOutput); err != nil || createRoomOutput.RoomID == "" {
		return result, fmt.Errorf("%w: room id not found in %s", ErrUnexpectedPixelOutput, room)
	}

	ask := AskPlayground{
		RoomID:       createRoomOutput.RoomID,
		ModelID:      model.Target(),
		Prompt:       result.recordPrompt(test.Prompt),
		Context:      test.Context,
		ImageURLs:    test.ImageURLs,
		ImagesBase64: test.ImagesBase64,
	}
	ask.ParamValues, ask.MCPToolID = semossParamValues(test)

	output, err := o.runPixel(ctx, logger, &result, ask.String())
	if err != nil {
		return result, err
	}
	var askOutput semossAskOutput
	if err := json.Unmarshal(output, &askOutput); err != nil {
		return result, fmt.Errorf("%w: %v", ErrUnexpectedPixelOutput, err)
	}

	if len(askOutput.ResponseMessage.ToolResponses) == 0 || test.Tool == nil {
		if askOutput.ResponseMessage.Content == "" {
			return result, fmt.Errorf("%w: response content not found", ErrEmptyResponse)
		}
		result.Text = askOutput.ResponseMessage.Content
		return result, nil
	}

	toolCall := askOutput.ResponseMessage.ToolResponses[0]
	arguments := toolCall.argumentsJSON()
	logger.Message(ctx, logging.LevelDebug, "model requested tool '%s' with arguments %s", test.Tool.Name, arguments)

	toolOutput, err := o.runPixel(ctx, logger, &result, RunMCPToolPixel(test.Tool.MCPToolID, test.Tool.Name, arguments))
	if err != nil {
		return result, err
	}
	if isEmptyOutput(toolOutput) {
		return result, fmt.Errorf("%w: tool execution returned no output", ErrEmptyResponse)
	}

	executionOutput, err := o.runPixel(ctx, logger, &result,
		AddToolExecutionPixel(model.Target(), createRoomOutput.RoomID, toolCall.ID, test.Tool.Name, string(toolOutput)))
	if err != nil {
		return result, err
	}
	var execution struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(executionOutput, &execution); err != nil {
		return result, fmt.Errorf("%w: %v", ErrUnexpectedPixelOutput, err)
	}
	if execution.Response == "" {
		return result, fmt.Errorf("%w: tool execution response not found", ErrEmptyResponse)
	}
	result.Text = execution.Response
	return result, nil
}

// semossParamValues maps test case settings to the paramValues and mcpToolID pixel arguments.
func semossParamValues(test config.TestCase) (params map[string]interface{}, mcpToolID string) {
	params = make(map[string]interface{})
	if test.Params != nil {
		if test.Params.Temperature != nil {
			params["temperature"] = *test.Params.Temperature
		}
		if test.Params.MaxTokens != nil {
			params["max_tokens"] = *test.Params.MaxTokens
		}
		if test.Params.TopP != nil {
			params["top_p"] = *test.Params.TopP
		}
	}
	if test.Kind == config.KindStructuredOutput {
		params["schema"] = test.Schema
	}
	if test.Tool != nil {
		choice := "AUTO"
		if test.Tool.IsRequired() {
			choice = "REQUIRED"
		}
		params["tool_choice"] = map[string]string{"type": choice}
		mcpToolID = test.Tool.MCPToolID
	}
	return params, mcpToolID
}

type semossAskOutput struct {
	ResponseMessage struct {
		Content       string               `json:"content"`
		ToolResponses []semossToolResponse `json:"tool_responses"`
	} `json:"responseMessage"`
}

type semossToolResponse struct {
	ID        string          `json:"id"`
	Arguments json.RawMessage `json:"arguments"`
}

// argumentsJSON returns the arguments as a JSON object text; arguments encoded as a JSON string are unwrapped.
func (t semossToolResponse) argumentsJSON() string {
	var encoded string
	if err := json.Unmarshal(t.Arguments, &encoded); err == nil {
		return jsonOrEmptyObject(encoded)
	}
	return jsonOrEmptyObject(string(t.Arguments))
}

type semossPixelResponse struct {
	InsightID   string `json:"insightID"`
	PixelReturn []struct {
		Output        json.RawMessage `json:"output"`
		OperationType []string        `json:"operationType"`
	} `json:"pixelReturn"`
}

// runPixel executes one pixel, records it in the result and returns the output of the first pixel return.
func (o *SEMOSS) runPixel(ctx context.Context, logger logging.Logger, result *Result, pixel string) (json.RawMessage, error) {
	insightID, err := o.insight(ctx)
	if err != nil {
		return nil, err
	}
	logger.Message(ctx, logging.LevelTrace, "running pixel: %s", pixel)
	response, err := timed(func() (semossPixelResponse, error) {
		return o.post(ctx, result.recordPixel(pixel), insightID)
	}, &result.duration)
	if err != nil {
		var providerErr *ProviderError
		if errors.As(err, &providerErr) {
			o.dropInsight(insightID)
		}
		return nil, err
	}
	if len(response.PixelReturn) == 0 {
		return nil, fmt.Errorf("%w: no pixel return", ErrUnexpectedPixelOutput)
	}
	first := response.PixelReturn[0]
	if slices.Contains(first.OperationType, pixelErrorOperator) {
		// The insight may have expired on the server; the next pixel opens a new one.
		o.dropInsight(insightID)
		return nil, NewProviderError(MalformedRequest, 0, fmt.Errorf("%w: %s", ErrPixelFailed, first.Output))
	}
	return first.Output, nil
}

// dropInsight forgets the cached insight unless another pair has already replaced it.
func (o *SEMOSS) dropInsight(insightID string) {
	o.insightMu.Lock()
	defer o.insightMu.Unlock()
	if o.insightID == insightID {
		o.insightID = ""
	}
}

// insight returns the insight all pixels of this provider run in, creating it on first use.
func (o *SEMOSS) insight(ctx context.Context) (string, error) {
	o.insightMu.Lock()
	defer o.insightMu.Unlock()
	if o.insightID != "" {
		return o.insightID, nil
	}
	response, err := o.post(ctx, newInsightPixel, "new")
	if err != nil {
		return "", err
	}
	if response.InsightID == "" {
		return "", fmt.Errorf("%w: insight id not returned", ErrUnexpectedPixelOutput)
	}
	o.insightID = response.InsightID
	return o.insightID, nil
}

func (o *SEMOSS) post(ctx context.Context, expression string, insightID string) (response semossPixelResponse, err error) {
	form := url.Values{}
	form.Set("expression", expression)
	form.Set("insightId", insightID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+runPixelPath, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return response, fmt.Errorf("%w: %v", ErrCreatePromptRequest, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(o.accessKey, o.secretKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return response, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}
	if resp.StatusCode != http.StatusOK {
		return response, NewProviderError(kindFromStatus(resp.StatusCode), resp.StatusCode,
			fmt.Errorf("%w: status %d: %s", ErrGenerateResponse, resp.StatusCode, bytes.TrimSpace(body)))
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return response, fmt.Errorf("%w: %v", ErrUnexpectedPixelOutput, err)
	}
	return response, nil
}

func isEmptyOutput(output json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(output))
	return trimmed == "" || trimmed == "null" || trimmed == `""` || trimmed == "{}" || trimmed == "[]"
}

func (o *SEMOSS) Close(ctx context.Context) error {
	o.httpClient.CloseIdleConnections()
	return nil
}
