// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package config contains the data models of the service configuration file and the
// test-case definition file, together with their loading and validation.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// OPENAI identifies OpenAI and OpenAI-compatible chat completion backends.
	OPENAI string = "openai"
	// ANTHROPIC identifies the Anthropic messages API.
	ANTHROPIC string = "anthropic"
	// GOOGLE identifies Google Gemini models served by the Gemini API or Vertex AI.
	GOOGLE string = "google"
	// DEEPSEEK identifies the DeepSeek chat API.
	DEEPSEEK string = "deepseek"
	// BEDROCK identifies AWS Bedrock models called through the Converse API.
	BEDROCK string = "bedrock"
	// SEMOSS identifies a SEMOSS playground backend driven by pixel commands.
	SEMOSS string = "semoss"
)

const (
	defaultPort             = 8888
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxParallelPairs = 8
	defaultRunTimeout       = 10 * time.Minute
	defaultRequestTimeout   = 60 * time.Second
	// DefaultConfirmerModel is used when a run request does not name a confirmer.
	DefaultConfirmerModel = "gpt-4.1-nano"
)

// ErrInvalidConfigProperty indicates invalid configuration.
var ErrInvalidConfigProperty = errors.New("invalid configuration property")

// Config represents the top-level configuration structure.
type Config struct {
	// Config contains application-wide settings.
	Config AppConfig `yaml:"config" validate:"required"`
}

// AppConfig defines application-wide settings.
type AppConfig struct {
	// LogFile specifies path to the log file.
	LogFile string `yaml:"log-file" validate:"omitempty,filepath"`

	// Server holds the HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Run holds the orchestration settings shared by all run requests.
	Run RunSettings `yaml:"run"`

	// Telemetry configures trace export.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Providers lists the model backends the service can talk to.
	Providers []ProviderConfig `yaml:"providers" validate:"required,unique=Name,dive"`

	// Models is the model catalog. Entries are validated one by one when the registry
	// is built so that a single bad entry does not disable the whole catalog.
	Models []ModelConfig `yaml:"models" validate:"required"`
}

// GetEnabledProviders returns the providers that are not disabled.
func (ac AppConfig) GetEnabledProviders() []ProviderConfig {
	enabled := make([]ProviderConfig, 0, len(ac.Providers))
	for _, provider := range ac.Providers {
		if !provider.Disabled {
			enabled = append(enabled, provider)
		}
	}
	return enabled
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port to listen on.
	Port int `yaml:"port" validate:"omitempty,min=1,max=65535"`
	// CORSOrigins lists the allowed origins. Defaults to any origin.
	CORSOrigins []string `yaml:"cors-origins" validate:"omitempty,dive,required"`
	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout *time.Duration `yaml:"shutdown-timeout" validate:"omitempty"`
}

// GetPort returns the configured port or the default one.
func (sc ServerConfig) GetPort() int {
	if sc.Port == 0 {
		return defaultPort
	}
	return sc.Port
}

// GetCORSOrigins returns the configured origins or a wildcard.
func (sc ServerConfig) GetCORSOrigins() []string {
	if len(sc.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return sc.CORSOrigins
}

// GetShutdownTimeout returns the configured shutdown timeout or the default one.
func (sc ServerConfig) GetShutdownTimeout() time.Duration {
	return durationOrDefault(sc.ShutdownTimeout, defaultShutdownTimeout)
}

// RunSettings defines orchestration limits.
type RunSettings struct {
	// MaxParallelPairs caps the number of (model, test) pairs executed at the same time.
	MaxParallelPairs int `yaml:"max-parallel-pairs" validate:"omitempty,min=1"`
	// RunTimeout is the overall deadline of one run request.
	RunTimeout *time.Duration `yaml:"run-timeout" validate:"omitempty"`
	// DefaultConfirmer is the confirmer model id used when a request names none.
	DefaultConfirmer string `yaml:"default-confirmer" validate:"omitempty"`
	// TestSource is an optional test-case definition file replacing the built-in library.
	TestSource string `yaml:"test-source" validate:"omitempty,filepath"`
}

// GetMaxParallelPairs returns the configured parallelism or the default one.
func (rs RunSettings) GetMaxParallelPairs() int {
	if rs.MaxParallelPairs < 1 {
		return defaultMaxParallelPairs
	}
	return rs.MaxParallelPairs
}

// GetRunTimeout returns the configured run deadline or the default one.
func (rs RunSettings) GetRunTimeout() time.Duration {
	return durationOrDefault(rs.RunTimeout, defaultRunTimeout)
}

// GetDefaultConfirmer returns the configured default confirmer or DefaultConfirmerModel.
func (rs RunSettings) GetDefaultConfirmer() string {
	if IsNotBlank(rs.DefaultConfirmer) {
		return rs.DefaultConfirmer
	}
	return DefaultConfirmerModel
}

// TelemetryConfig defines OpenTelemetry trace export. Export is disabled without an endpoint.
type TelemetryConfig struct {
	// OTLPEndpoint is the host:port of the OTLP/HTTP collector.
	OTLPEndpoint string `yaml:"otlp-endpoint" validate:"omitempty,hostname_port"`
	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
}

// ProviderConfig defines settings for a model backend.
type ProviderConfig struct {
	// Name specifies unique identifier of the provider.
	Name string `yaml:"name" validate:"required,oneof=openai anthropic google deepseek bedrock semoss"`

	// ClientConfig holds provider-specific client settings.
	ClientConfig ClientConfig `yaml:"client-config" validate:"required"`

	// MaxRequestsPerMinute limits the requests sent to this provider across all concurrent pairs.
	// Value of 0 means no rate limiting will be applied.
	MaxRequestsPerMinute int `yaml:"max-requests-per-minute" validate:"omitempty,min=0"`

	// RequestTimeout bounds the wall-clock time of a single invocation.
	RequestTimeout *time.Duration `yaml:"request-timeout" validate:"omitempty"`

	// RetryPolicy specifies retry behavior on transient errors.
	RetryPolicy RetryPolicy `yaml:"retry-policy" validate:"omitempty"`

	// Disabled excludes the provider and all of its models.
	Disabled bool `yaml:"disabled" validate:"omitempty"`
}

// GetRequestTimeout returns the configured per-invocation timeout or the default one.
func (pc ProviderConfig) GetRequestTimeout() time.Duration {
	return durationOrDefault(pc.RequestTimeout, defaultRequestTimeout)
}

// ClientConfig is a marker interface for provider-specific configurations.
type ClientConfig interface{}

// OpenAIClientConfig represents OpenAI provider settings.
type OpenAIClientConfig struct {
	// APIKey is the API key for the OpenAI provider.
	APIKey string `yaml:"api-key" validate:"required"`
	// BaseURL points the client at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base-url" validate:"omitempty,url"`
	// Organization is sent as the OpenAI-Organization header when set.
	Organization string `yaml:"organization"`
}

// AnthropicClientConfig represents Anthropic provider settings.
type AnthropicClientConfig struct {
	// APIKey is the API key for the Anthropic provider.
	APIKey string `yaml:"api-key" validate:"required"`
	// BaseURL points the client at an Anthropic-compatible gateway.
	BaseURL string `yaml:"base-url" validate:"omitempty,url"`
}

// GoogleAIClientConfig represents Google Gemini settings.
// Either APIKey (Gemini API) or Project and Location (Vertex AI) must be set.
type GoogleAIClientConfig struct {
	// APIKey is the Gemini API key.
	APIKey string `yaml:"api-key" validate:"required_without=Project"`
	// Project is the Google Cloud project used with Vertex AI.
	Project string `yaml:"project" validate:"required_without=APIKey,required_with=Location"`
	// Location is the Google Cloud region used with Vertex AI.
	Location string `yaml:"location" validate:"required_with=Project"`
}

// UseVertexAI reports whether the Vertex AI backend is configured.
func (c GoogleAIClientConfig) UseVertexAI() bool {
	return IsNotBlank(c.Project)
}

// DeepseekClientConfig represents DeepSeek provider settings.
type DeepseekClientConfig struct {
	// APIKey is the API key for the DeepSeek provider.
	APIKey string `yaml:"api-key" validate:"required"`
}

// BedrockClientConfig represents AWS Bedrock settings.
// Without static keys the default AWS credential chain is used.
type BedrockClientConfig struct {
	// Region is the AWS region hosting the models.
	Region string `yaml:"region" validate:"required"`
	// AccessKeyID is an optional static access key.
	AccessKeyID string `yaml:"access-key-id" validate:"required_with=SecretAccessKey"`
	// SecretAccessKey is an optional static secret key.
	SecretAccessKey string `yaml:"secret-access-key" validate:"required_with=AccessKeyID"`
	// SessionToken is an optional session token for temporary credentials.
	SessionToken string `yaml:"session-token"`
}

// SEMOSSClientConfig represents a SEMOSS deployment.
type SEMOSSClientConfig struct {
	// Endpoint is the base API URL of the deployment, e.g. https://host/Monolith/api.
	Endpoint string `yaml:"endpoint" json:"url" validate:"required,url"`
	// AccessKey is the deployment access key.
	AccessKey string `yaml:"access-key" json:"access_key" validate:"required"`
	// SecretKey is the deployment secret key.
	SecretKey string `yaml:"secret-key" json:"secret_key" validate:"required"`
}

// ModelConfig is one entry of the model catalog.
type ModelConfig struct {
	// ID is the unique model identifier used in run requests.
	ID string `yaml:"id" validate:"required"`
	// Name is the display name. Run results are keyed by it.
	Name string `yaml:"name" validate:"required"`
	// Client is the provider tag shown to users, e.g. "OpenAI - Chat Completions".
	Client string `yaml:"client" validate:"required"`
	// Type is the model family, e.g. "OpenAI" or "Anthropic".
	Type string `yaml:"type"`
	// Provider names the ProviderConfig that serves this model.
	Provider string `yaml:"provider" validate:"required"`
	// TargetModel is the backend model name when it differs from ID.
	TargetModel string `yaml:"target-model"`
	// Capabilities maps test keys to whether the model supports them. Missing keys mean supported.
	Capabilities map[string]bool `yaml:"capabilities"`
	// ConfirmerOnly hides the model from the public catalog while keeping it usable as confirmer.
	ConfirmerOnly bool `yaml:"confirmer-only"`
	// Disabled drops the entry from the catalog.
	Disabled bool `yaml:"disabled"`
}

// RetryPolicy defines retry behavior on transient errors.
type RetryPolicy struct {
	// MaxRetryAttempts specifies the maximum number of retry attempts.
	// Value of 0 means no retry attempts will be made.
	MaxRetryAttempts uint `yaml:"max-retry-attempts" validate:"omitempty,min=0"`

	// InitialDelaySeconds specifies the initial delay in seconds before the first retry attempt.
	InitialDelaySeconds int `yaml:"initial-delay-seconds" validate:"omitempty,gt=0"`
}

// UnmarshalYAML implements custom YAML unmarshaling for ProviderConfig.
// The client-config section is decoded according to the provider name.
func (pc *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	var temp struct {
		Name                 string         `yaml:"name"`
		ClientConfig         yaml.Node      `yaml:"client-config"`
		MaxRequestsPerMinute int            `yaml:"max-requests-per-minute"`
		RequestTimeout       *time.Duration `yaml:"request-timeout"`
		RetryPolicy          RetryPolicy    `yaml:"retry-policy"`
		Disabled             bool           `yaml:"disabled"`
	}

	if err := value.Decode(&temp); err != nil {
		return err
	}

	pc.Name = temp.Name
	pc.MaxRequestsPerMinute = temp.MaxRequestsPerMinute
	pc.RequestTimeout = temp.RequestTimeout
	pc.RetryPolicy = temp.RetryPolicy
	pc.Disabled = temp.Disabled

	var err error
	switch temp.Name {
	case OPENAI:
		pc.ClientConfig, err = decodeClientConfig[OpenAIClientConfig](&temp.ClientConfig)
	case ANTHROPIC:
		pc.ClientConfig, err = decodeClientConfig[AnthropicClientConfig](&temp.ClientConfig)
	case GOOGLE:
		pc.ClientConfig, err = decodeClientConfig[GoogleAIClientConfig](&temp.ClientConfig)
	case DEEPSEEK:
		pc.ClientConfig, err = decodeClientConfig[DeepseekClientConfig](&temp.ClientConfig)
	case BEDROCK:
		pc.ClientConfig, err = decodeClientConfig[BedrockClientConfig](&temp.ClientConfig)
	case SEMOSS:
		pc.ClientConfig, err = decodeClientConfig[SEMOSSClientConfig](&temp.ClientConfig)
	default:
		return fmt.Errorf("%w: unknown client-config for provider: %s", ErrInvalidConfigProperty, temp.Name)
	}

	return err
}

func decodeClientConfig[T any](node *yaml.Node) (cfg T, err error) {
	if node.IsZero() {
		return cfg, fmt.Errorf("%w: missing client-config", ErrInvalidConfigProperty)
	}
	err = node.Decode(&cfg)
	return
}

func durationOrDefault(value *time.Duration, defaultValue time.Duration) time.Duration {
	if value == nil || *value <= 0 {
		return defaultValue
	}
	return *value
}
