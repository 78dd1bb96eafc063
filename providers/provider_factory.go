// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"fmt"

	"github.com/petmal/playgroundtester/config"
)

// Factory creates a provider for the given configuration.
type Factory func(ctx context.Context, cfg config.ProviderConfig) (Provider, error)

// NewProvider creates a new model provider based on the given configuration.
// It returns an error if the provider name is unknown or initialization fails.
func NewProvider(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	if err := config.ValidateClientConfig(cfg.ClientConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	switch clientConfig := cfg.ClientConfig.(type) {
	case config.OpenAIClientConfig:
		return NewOpenAI(clientConfig), nil
	case config.AnthropicClientConfig:
		return NewAnthropic(clientConfig), nil
	case config.GoogleAIClientConfig:
		return NewGoogleAI(ctx, clientConfig)
	case config.DeepseekClientConfig:
		return NewDeepseek(clientConfig, cfg.GetRequestTimeout())
	case config.BedrockClientConfig:
		return NewBedrock(ctx, clientConfig)
	case config.SEMOSSClientConfig:
		return NewSEMOSS(clientConfig), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProviderName, cfg.Name)
}
