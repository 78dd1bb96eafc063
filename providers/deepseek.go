// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"fmt"
	"time"

	deepseek "github.com/cohesion-org/deepseek-go"
	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
)

// NewDeepseek creates a new Deepseek provider instance with the given configuration.
func NewDeepseek(cfg config.DeepseekClientConfig, requestTimeout time.Duration) (*Deepseek, error) {
	opts := make([]deepseek.Option, 0)
	if requestTimeout > 0 {
		opts = append(opts, deepseek.WithTimeout(requestTimeout))
	}
	client, err := deepseek.NewClientWithOptions(cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return &Deepseek{
		client: client,
	}, nil
}

// Deepseek implements the Provider interface for Deepseek generative models.
// Image input and tool calling are not supported.
type Deepseek struct {
	client *deepseek.Client
}

func (o *Deepseek) Name() string {
	return config.DEEPSEEK
}

func (o *Deepseek) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error) {
	defer func() {
		err = classifyError(err, nil)
	}()

	if len(test.ImageURLs) > 0 || len(test.ImagesBase64) > 0 {
		return result, ErrImagesNotSupported
	}
	if test.Tool != nil {
		return result, ErrToolsNotSupported
	}

	request := &deepseek.ChatCompletionRequest{
		Model:    model.Target(),
		Messages: []deepseek.ChatCompletionMessage{},
	}

	if config.IsNotBlank(test.Context) {
		request.Messages = append(request.Messages, deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleSystem,
			Content: result.recordPrompt(test.Context),
		})
	}

	if test.Kind == config.KindStructuredOutput {
		instruction, err := DefaultStructuredOutputInstruction(test.Schema)
		if err != nil {
			return result, err
		}
		request.Messages = append(request.Messages, deepseek.ChatCompletionMessage{
			Role:    deepseek.ChatMessageRoleSystem,
			Content: result.recordPrompt(instruction), // NOTE: required with JSONMode
		})
		request.JSONMode = true
	}

	request.Messages = append(request.Messages, deepseek.ChatCompletionMessage{
		Role:    deepseek.ChatMessageRoleUser,
		Content: result.recordPrompt(test.Prompt),
	})

	if test.Params != nil {
		if test.Params.Temperature != nil {
			request.Temperature = float32(*test.Params.Temperature)
		}
		if test.Params.TopP != nil {
			request.TopP = float32(*test.Params.TopP)
		}
		if test.Params.MaxTokens != nil {
			request.MaxTokens = int(*test.Params.MaxTokens)
		}
	}

	resp, err := timed(func() (*deepseek.ChatCompletionResponse, error) {
		return o.client.CreateChatCompletion(ctx, request)
	}, &result.duration)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return result, ErrEmptyResponse
	}

	recordUsage(&resp.Usage.PromptTokens, &resp.Usage.CompletionTokens, &result.usage)
	logUsage(ctx, logger, result)

	choice := resp.Choices[0]
	if !config.IsNotBlank(choice.Message.Content) {
		return result, fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, choice.FinishReason)
	}
	result.Text = choice.Message.Content
	return result, nil
}

func (o *Deepseek) Close(ctx context.Context) error {
	return nil
}
