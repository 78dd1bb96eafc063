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
	"fmt"
	"net/http"
	"strings"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
	"google.golang.org/genai"
)

// NewGoogleAI creates a new GoogleAI provider instance with the given configuration.
// It returns an error if client initialization fails.
func NewGoogleAI(ctx context.Context, cfg config.GoogleAIClientConfig) (*GoogleAI, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.UseVertexAI() {
		clientConfig = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Project,
			Location: cfg.Location,
		}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return &GoogleAI{
		client:     client,
		httpClient: &http.Client{},
	}, nil
}

// GoogleAI implements the Provider interface for Google AI generative models.
type GoogleAI struct {
	client     *genai.Client
	httpClient *http.Client
}

func (o *GoogleAI) Name() string {
	return config.GOOGLE
}

func (o *GoogleAI) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error) {
	defer func() {
		err = classifyError(err, googleStatus)
	}()

	generateConfig := &genai.GenerateContentConfig{
		CandidateCount: 1,
	}

	if config.IsNotBlank(test.Context) {
		generateConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(result.recordPrompt(test.Context))},
		}
	}

	if test.Params != nil {
		if test.Params.Temperature != nil {
			generateConfig.Temperature = genai.Ptr(float32(*test.Params.Temperature))
		}
		if test.Params.TopP != nil {
			generateConfig.TopP = genai.Ptr(float32(*test.Params.TopP))
		}
		if test.Params.MaxTokens != nil {
			generateConfig.MaxOutputTokens = int32(*test.Params.MaxTokens)
		}
	}

	if test.Kind == config.KindStructuredOutput {
		generateConfig.ResponseMIMEType = "application/json"
		generateConfig.ResponseJsonSchema = test.Schema
	}

	if test.Tool != nil {
		generateConfig.Tools = []*genai.Tool{
			{
				FunctionDeclarations: []*genai.FunctionDeclaration{
					{
						Name:                 test.Tool.Name,
						Description:          test.Tool.Description,
						ParametersJsonSchema: toolParameters(test.Tool),
					},
				},
			},
		}
		mode := genai.FunctionCallingConfigModeAuto
		if test.Tool.IsRequired() {
			mode = genai.FunctionCallingConfigModeAny
		}
		generateConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	promptParts, err := o.createPromptMessageParts(ctx, test, &result)
	if err != nil {
		return result, err
	}
	contents := []*genai.Content{genai.NewContentFromParts(promptParts, genai.RoleUser)}

	resp, err := timed(func() (*genai.GenerateContentResponse, error) {
		return o.client.Models.GenerateContent(ctx, model.Target(), contents, generateConfig)
	}, &result.duration)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}
	if resp == nil {
		return result, ErrEmptyResponse
	}

	if resp.UsageMetadata != nil {
		recordUsage(&resp.UsageMetadata.PromptTokenCount, &resp.UsageMetadata.CandidatesTokenCount, &result.usage)
	}
	logUsage(ctx, logger, result)

	var lines []string
	for _, call := range resp.FunctionCalls() {
		arguments, err := json.Marshal(call.Args)
		if err != nil {
			arguments = []byte("{}")
		}
		lines = append(lines, DefaultToolCallDescription(call.Name, string(arguments)))
	}
	if text := resp.Text(); config.IsNotBlank(text) {
		lines = append(lines, text)
	}
	if len(lines) == 0 {
		return result, ErrEmptyResponse
	}
	result.Text = strings.Join(lines, "\n")
	return result, nil
}

func (o *GoogleAI) createPromptMessageParts(ctx context.Context, test config.TestCase, result *Result) ([]*genai.Part, error) {
	images, err := testImages(ctx, o.httpClient, test, true)
	if err != nil {
		return nil, err
	}
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(result.recordPrompt(test.Prompt))) // append the prompt text after the image data for improved context integrity
	return parts, nil
}

func googleStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func (o *GoogleAI) Close(ctx context.Context) error {
	o.httpClient.CloseIdleConnections()
	return nil
}
