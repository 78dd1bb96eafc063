// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
)

// NewOpenAI creates a new OpenAI chat completions provider. A base URL targets any OpenAI-compatible endpoint.
func NewOpenAI(cfg config.OpenAIClientConfig, opts ...option.RequestOption) *OpenAI {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries are driven by the executor
	}
	if config.IsNotBlank(cfg.BaseURL) {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if config.IsNotBlank(cfg.Organization) {
		clientOpts = append(clientOpts, option.WithOrganization(cfg.Organization))
	}
	return &OpenAI{
		client: openai.NewClient(append(clientOpts, opts...)...),
	}
}

// OpenAI implements the Provider interface for OpenAI chat completion models.
type OpenAI struct {
	client openai.Client
}

func (o *OpenAI) Name() string {
	return config.OPENAI
}

func (o *OpenAI) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error) {
	defer func() {
		err = classifyError(err, openAIStatus)
	}()

	request := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model.Target()),
		Messages: []openai.ChatCompletionMessageParamUnion{},
		N:        param.NewOpt(int64(1)), // generate only one candidate response
	}

	if config.IsNotBlank(test.Context) {
		request.Messages = append(request.Messages, openai.SystemMessage(result.recordPrompt(test.Context)))
	}

	promptMessage, err := o.createPromptMessage(test, &result)
	if err != nil {
		return result, err
	}
	request.Messages = append(request.Messages, promptMessage)

	if test.Params != nil {
		if test.Params.Temperature != nil {
			request.Temperature = param.NewOpt(*test.Params.Temperature)
		}
		if test.Params.TopP != nil {
			request.TopP = param.NewOpt(*test.Params.TopP)
		}
		if test.Params.MaxTokens != nil {
			request.MaxTokens = param.NewOpt(*test.Params.MaxTokens)
		}
	}

	if test.Kind == config.KindStructuredOutput {
		request.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   "response",
				Schema: test.Schema,
				Strict: param.NewOpt(false),
			},
		}}
	}

	if test.Tool != nil {
		request.Tools = append(request.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        test.Tool.Name,
			Description: param.NewOpt(test.Tool.Description),
			Parameters:  toolParameters(test.Tool),
		}))
		choice := openai.ChatCompletionToolChoiceOptionAutoAuto
		if test.Tool.IsRequired() {
			choice = openai.ChatCompletionToolChoiceOptionAutoRequired
		}
		request.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt(string(choice))}
	}

	resp, err := timed(func() (*openai.ChatCompletion, error) {
		return o.client.Chat.Completions.New(ctx, request)
	}, &result.duration)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}

	recordUsage(&resp.Usage.PromptTokens, &resp.Usage.CompletionTokens, &result.usage)
	logUsage(ctx, logger, result)

	if len(resp.Choices) == 0 {
		return result, ErrEmptyResponse
	}
	message := resp.Choices[0].Message
	lines := make([]string, 0, len(message.ToolCalls)+1)
	for _, toolCall := range message.ToolCalls {
		lines = append(lines, DefaultToolCallDescription(toolCall.Function.Name, toolCall.Function.Arguments))
	}
	if config.IsNotBlank(message.Content) {
		lines = append(lines, message.Content)
	}
	if len(lines) == 0 {
		return result, fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, resp.Choices[0].FinishReason)
	}
	result.Text = strings.Join(lines, "\n")
	return result, nil
}

func (o *OpenAI) createPromptMessage(test config.TestCase, result *Result) (openai.ChatCompletionMessageParamUnion, error) {
	if len(test.ImageURLs) == 0 && len(test.ImagesBase64) == 0 {
		return openai.UserMessage(result.recordPrompt(test.Prompt)), nil
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(test.ImageURLs)+len(test.ImagesBase64)+1)
	parts = append(parts, openai.TextContentPart(result.recordPrompt(test.Prompt)))
	for _, url := range test.ImageURLs {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    url,
			Detail: "auto",
		}))
	}
	for _, encoded := range test.ImagesBase64 {
		img, err := decodeImage(encoded)
		if err != nil {
			return openai.ChatCompletionMessageParamUnion{}, err
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    img.DataURL(),
			Detail: "auto",
		}))
	}
	return openai.UserMessage(parts), nil
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (o *OpenAI) Close(ctx context.Context) error {
	return nil
}
