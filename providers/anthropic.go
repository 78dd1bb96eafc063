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

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
)

// responseFormatterToolName is the tool forced on the model to obtain schema-conforming output.
const responseFormatterToolName = "record_response"

const defaultMaxTokens = 2048

// NewAnthropic creates a new Anthropic provider instance with the given configuration.
func NewAnthropic(cfg config.AnthropicClientConfig, opts ...anthropicoption.RequestOption) *Anthropic {
	clientOpts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(cfg.APIKey),
		anthropicoption.WithMaxRetries(0),
	}
	if config.IsNotBlank(cfg.BaseURL) {
		clientOpts = append(clientOpts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(append(clientOpts, opts...)...),
	}
}

// Anthropic implements the Provider interface for Anthropic Claude models.
type Anthropic struct {
	client anthropic.Client
}

func (o *Anthropic) Name() string {
	return config.ANTHROPIC
}

func (o *Anthropic) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error) {
	defer func() {
		err = classifyError(err, anthropicStatus)
	}()

	request := anthropic.MessageNewParams{
		MaxTokens: defaultMaxTokens,
		Model:     anthropic.Model(model.Target()),
	}

	if config.IsNotBlank(test.Context) {
		request.System = []anthropic.TextBlockParam{
			{
				Text: result.recordPrompt(test.Context),
			},
		}
	}

	if test.Params != nil {
		if test.Params.MaxTokens != nil {
			request.MaxTokens = *test.Params.MaxTokens
		}
		if test.Params.Temperature != nil {
			request.Temperature = anthropic.Float(*test.Params.Temperature)
		}
		if test.Params.TopP != nil {
			request.TopP = anthropic.Float(*test.Params.TopP)
		}
	}

	if test.Kind == config.KindStructuredOutput {
		request.Tools = append(request.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        responseFormatterToolName,
				Description: anthropic.String("Record the response using well-structured JSON."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: test.Schema["properties"],
					Required:   requiredProperties(test.Schema),
				},
			},
		})
		request.ToolChoice = anthropic.ToolChoiceParamOfTool(responseFormatterToolName)
	}

	if test.Tool != nil {
		parameters := toolParameters(test.Tool)
		request.Tools = append(request.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        test.Tool.Name,
				Description: anthropic.String(test.Tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: parameters["properties"],
					Required:   requiredProperties(parameters),
				},
			},
		})
		if test.Tool.IsRequired() {
			request.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			request.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	promptParts, err := o.createPromptMessageParts(test, &result)
	if err != nil {
		return result, err
	}
	request.Messages = []anthropic.MessageParam{
		anthropic.NewUserMessage(promptParts...),
	}

	resp, err := timed(func() (*anthropic.Message, error) {
		return o.client.Messages.New(ctx, request)
	}, &result.duration)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}

	recordUsage(&resp.Usage.InputTokens, &resp.Usage.OutputTokens, &result.usage)
	logUsage(ctx, logger, result)

	lines := make([]string, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			if config.IsNotBlank(content.Text) {
				lines = append(lines, content.Text)
			}
		case anthropic.ToolUseBlock:
			if content.Name == responseFormatterToolName {
				lines = append(lines, string(content.Input))
			} else {
				lines = append(lines, DefaultToolCallDescription(content.Name, string(content.Input)))
			}
		}
	}
	if len(lines) == 0 {
		return result, fmt.Errorf("%w: stop reason %s", ErrEmptyResponse, resp.StopReason)
	}
	result.Text = strings.Join(lines, "\n")
	return result, nil
}

func (o *Anthropic) createPromptMessageParts(test config.TestCase, result *Result) ([]anthropic.ContentBlockParamUnion, error) {
	parts := make([]anthropic.ContentBlockParamUnion, 0, len(test.ImageURLs)+len(test.ImagesBase64)+1)
	for _, url := range test.ImageURLs {
		parts = append(parts, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}))
	}
	for _, encoded := range test.ImagesBase64 {
		img, err := decodeImage(encoded)
		if err != nil {
			return nil, err
		}
		parts = append(parts, anthropic.NewImageBlockBase64(img.MimeType, img.Base64()))
	}
	// Images first, prompt text last.
	parts = append(parts, anthropic.NewTextBlock(result.recordPrompt(test.Prompt)))
	return parts, nil
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (o *Anthropic) Close(ctx context.Context) error {
	return nil
}
