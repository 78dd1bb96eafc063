// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/registry"
)

// NewBedrock creates a new AWS Bedrock provider using the Converse API.
// Without static keys the default AWS credential chain is used.
func NewBedrock(ctx context.Context, cfg config.BedrockClientConfig) (*Bedrock, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if config.IsNotBlank(cfg.AccessKeyID) {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return &Bedrock{
		client: bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
			o.RetryMaxAttempts = 1
		}),
		httpClient: &http.Client{},
	}, nil
}

// Bedrock implements the Provider interface for models hosted on AWS Bedrock.
type Bedrock struct {
	client     *bedrockruntime.Client
	httpClient *http.Client
}

func (o *Bedrock) Name() string {
	return config.BEDROCK
}

func (o *Bedrock) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result Result, err error) {
	defer func() {
		err = classifyError(err, statusFromError)
	}()

	request := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model.Target()),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(defaultMaxTokens),
		},
	}

	if config.IsNotBlank(test.Context) {
		request.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: result.recordPrompt(test.Context)},
		}
	}

	if test.Params != nil {
		if test.Params.MaxTokens != nil {
			request.InferenceConfig.MaxTokens = aws.Int32(int32(*test.Params.MaxTokens))
		}
		if test.Params.Temperature != nil {
			request.InferenceConfig.Temperature = aws.Float32(float32(*test.Params.Temperature))
		}
		if test.Params.TopP != nil {
			request.InferenceConfig.TopP = aws.Float32(float32(*test.Params.TopP))
		}
	}

	if test.Kind == config.KindStructuredOutput {
		request.ToolConfig = &types.ToolConfiguration{
			Tools: []types.Tool{
				bedrockToolSpec(responseFormatterToolName, "Record the response using well-structured JSON.", test.Schema),
			},
			ToolChoice: &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(responseFormatterToolName)},
			},
		}
	}

	if test.Tool != nil {
		toolConfig := &types.ToolConfiguration{
			Tools: []types.Tool{
				bedrockToolSpec(test.Tool.Name, test.Tool.Description, toolParameters(test.Tool)),
			},
			ToolChoice: &types.ToolChoiceMemberAuto{},
		}
		if test.Tool.IsRequired() {
			toolConfig.ToolChoice = &types.ToolChoiceMemberAny{}
		}
		request.ToolConfig = toolConfig
	}

	promptBlocks, err := o.createPromptContentBlocks(ctx, test, &result)
	if err != nil {
		return result, err
	}
	request.Messages = []types.Message{
		{
			Role:    types.ConversationRoleUser,
			Content: promptBlocks,
		},
	}

	resp, err := timed(func() (*bedrockruntime.ConverseOutput, error) {
		return o.client.Converse(ctx, request)
	}, &result.duration)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrGenerateResponse, err)
	}

	if resp.Usage != nil {
		recordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, &result.usage)
	}
	logUsage(ctx, logger, result)

	message, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return result, fmt.Errorf("%w: stop reason %s", ErrEmptyResponse, resp.StopReason)
	}
	var lines []string
	for _, block := range message.Value.Content {
		switch content := block.(type) {
		case *types.ContentBlockMemberText:
			if config.IsNotBlank(content.Value) {
				lines = append(lines, content.Value)
			}
		case *types.ContentBlockMemberToolUse:
			arguments := bedrockToolInput(content.Value.Input)
			name := aws.ToString(content.Value.Name)
			if name == responseFormatterToolName {
				lines = append(lines, arguments)
			} else {
				lines = append(lines, DefaultToolCallDescription(name, arguments))
			}
		}
	}
	if len(lines) == 0 {
		return result, fmt.Errorf("%w: stop reason %s", ErrEmptyResponse, resp.StopReason)
	}
	result.Text = strings.Join(lines, "\n")
	return result, nil
}

func (o *Bedrock) createPromptContentBlocks(ctx context.Context, test config.TestCase, result *Result) ([]types.ContentBlock, error) {
	images, err := testImages(ctx, o.httpClient, test, true)
	if err != nil {
		return nil, err
	}
	blocks := make([]types.ContentBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: types.ImageFormat(img.Format()),
				Source: &types.ImageSourceMemberBytes{Value: img.Data},
			},
		})
	}
	blocks = append(blocks, &types.ContentBlockMemberText{Value: result.recordPrompt(test.Prompt)})
	return blocks, nil
}

func bedrockToolSpec(name string, description string, schema map[string]interface{}) types.Tool {
	return &types.ToolMemberToolSpec{
		Value: types.ToolSpecification{
			Name:        aws.String(name),
			Description: aws.String(description),
			InputSchema: &types.ToolInputSchemaMemberJson{
				Value: document.NewLazyDocument(schema),
			},
		},
	}
}

func bedrockToolInput(input document.Interface) string {
	if input == nil {
		return "{}"
	}
	var arguments interface{}
	if err := input.UnmarshalSmithyDocument(&arguments); err != nil {
		return "{}"
	}
	raw, err := json.Marshal(arguments)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (o *Bedrock) Close(ctx context.Context) error {
	o.httpClient.CloseIdleConnections()
	return nil
}
