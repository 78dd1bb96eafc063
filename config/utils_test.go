// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petmal/playgroundtester/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMockFile(t *testing.T, contents []byte) string {
	return testutils.CreateMockFile(t, "config-*.yaml", contents)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("PGT_TEST_OPENAI_KEY", "b0f7c9d6-0d3c-4a1e-9e8b-2f7b7a0b4d11")
	t.Setenv("PGT_TEST_SEMOSS_SECRET", "c3a8d2c1-7c6f-4e0a-8f7e-0e61b3b5d9a2")

	type args struct {
		ctx  context.Context
		path string
	}
	tests := []struct {
		name    string
		args    args
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "file does not exist",
			args: args{
				ctx:  context.Background(),
				path: t.TempDir() + "/unknown.yaml",
			},
			wantErr: true,
		},
		{
			name: "malformed file",
			args: args{
				ctx:  context.Background(),
				path: createMockFile(t, []byte(`{[][][]}`)),
			},
			wantErr: true,
		},
		{
			name: "missing providers",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    server:
        port: 8080`)),
			},
			wantErr: true,
		},
		{
			name: "unknown provider",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    providers:
        - name: unknown
          client-config:
              api-key: "5223bcbd-6939-42d5-989e-23376d12a512"
    models:
        - id: "m1"
          name: "Model"
          client: "Unknown"
          provider: unknown
`)),
			},
			wantErr: true,
		},
		{
			name: "missing client config",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    providers:
        - name: openai
    models:
        - id: "m1"
          name: "Model"
          client: "OpenAI"
          provider: openai
`)),
			},
			wantErr: true,
		},
		{
			name: "extra top-level field",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    unknown: "solutions"
    providers:
        - name: openai
          client-config:
              api-key: "a8b159e5-ee58-47c6-93d2-f31dcf068e8a"
    models:
        - id: "m1"
          name: "Model"
          client: "OpenAI"
          provider: openai
`)),
			},
			wantErr: true,
		},
		{
			name: "duplicate provider names",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    providers:
        - name: openai
          client-config:
              api-key: "a8b159e5-ee58-47c6-93d2-f31dcf068e8a"
        - name: openai
          client-config:
              api-key: "0c8d0f1e-1d61-4d8f-a5b3-2f55e0c2b7a4"
    models:
        - id: "m1"
          name: "Model"
          client: "OpenAI"
          provider: openai
`)),
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    server:
        port: 70000
    providers:
        - name: openai
          client-config:
              api-key: "a8b159e5-ee58-47c6-93d2-f31dcf068e8a"
    models:
        - id: "m1"
          name: "Model"
          client: "OpenAI"
          provider: openai
`)),
			},
			wantErr: true,
		},
		{
			name: "valid file with defaults",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    providers:
        - name: openai
          client-config:
              api-key: "${PGT_TEST_OPENAI_KEY}"
    models:
        - id: "4acbe913-df40-4ac0-b28a-daa5ad91b172"
          name: "GPT-4o"
          client: "OpenAI - Chat Completions"
          type: "OpenAI"
          provider: openai
          target-model: "gpt-4o"
`)),
			},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8888, cfg.Config.Server.GetPort())
				assert.Equal(t, []string{"*"}, cfg.Config.Server.GetCORSOrigins())
				assert.Equal(t, 10*time.Second, cfg.Config.Server.GetShutdownTimeout())
				assert.Equal(t, 8, cfg.Config.Run.GetMaxParallelPairs())
				assert.Equal(t, 10*time.Minute, cfg.Config.Run.GetRunTimeout())
				assert.Equal(t, DefaultConfirmerModel, cfg.Config.Run.GetDefaultConfirmer())
				require.Len(t, cfg.Config.Providers, 1)
				assert.Equal(t, OpenAIClientConfig{APIKey: "b0f7c9d6-0d3c-4a1e-9e8b-2f7b7a0b4d11"}, cfg.Config.Providers[0].ClientConfig)
				assert.Equal(t, 60*time.Second, cfg.Config.Providers[0].GetRequestTimeout())
				require.Len(t, cfg.Config.Models, 1)
				assert.Equal(t, "gpt-4o", cfg.Config.Models[0].TargetModel)
			},
		},
		{
			name: "valid file with all providers and optional values",
			args: args{
				ctx: context.Background(),
				path: createMockFile(t, []byte(`config:
    log-file: "logs/service.log"
    server:
        port: 9000
        cors-origins: ["http://localhost:3000"]
        shutdown-timeout: 5s
    run:
        max-parallel-pairs: 3
        run-timeout: 90s
        default-confirmer: "judge"
        test-source: "tests.yaml"
    telemetry:
        otlp-endpoint: "localhost:4318"
        insecure: true
    providers:
        - name: openai
          client-config:
              api-key: "k1"
              base-url: "https://gateway.example.com/v1"
              organization: "org-playground"
          max-requests-per-minute: 60
          request-timeout: 30s
          retry-policy:
              max-retry-attempts: 2
              initial-delay-seconds: 1
        - name: anthropic
          client-config:
              api-key: "k2"
        - name: google
          client-config:
              project: "playground"
              location: "us-central1"
        - name: deepseek
          client-config:
              api-key: "k3"
        - name: bedrock
          client-config:
              region: "us-east-1"
          disabled: true
        - name: semoss
          client-config:
              endpoint: "https://semoss.example.com/Monolith/api"
              access-key: "access"
              secret-key: "${PGT_TEST_SEMOSS_SECRET}"
    models:
        - id: "judge"
          name: "Judge"
          client: "OpenAI - Chat Completions"
          provider: openai
          confirmer-only: true
        - id: "4801422a-5c62-421e-a00c-05c6a9e15de8"
          name: "Llama3 70B"
          client: "SEMOSS"
          provider: semoss
          capabilities:
              prompt_with_image_urls: false
`)),
			},
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, filepath.IsAbs(cfg.Config.LogFile))
				assert.True(t, filepath.IsAbs(cfg.Config.Run.TestSource))
				assert.Equal(t, 9000, cfg.Config.Server.GetPort())
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Config.Server.GetCORSOrigins())
				assert.Equal(t, 5*time.Second, cfg.Config.Server.GetShutdownTimeout())
				assert.Equal(t, 3, cfg.Config.Run.GetMaxParallelPairs())
				assert.Equal(t, 90*time.Second, cfg.Config.Run.GetRunTimeout())
				assert.Equal(t, "judge", cfg.Config.Run.GetDefaultConfirmer())
				assert.Equal(t, "localhost:4318", cfg.Config.Telemetry.OTLPEndpoint)

				require.Len(t, cfg.Config.Providers, 6)
				assert.Equal(t, OpenAIClientConfig{
					APIKey:       "k1",
					BaseURL:      "https://gateway.example.com/v1",
					Organization: "org-playground",
				}, cfg.Config.Providers[0].ClientConfig)
				assert.Equal(t, 60, cfg.Config.Providers[0].MaxRequestsPerMinute)
				assert.Equal(t, 30*time.Second, cfg.Config.Providers[0].GetRequestTimeout())
				assert.Equal(t, RetryPolicy{MaxRetryAttempts: 2, InitialDelaySeconds: 1}, cfg.Config.Providers[0].RetryPolicy)
				assert.IsType(t, AnthropicClientConfig{}, cfg.Config.Providers[1].ClientConfig)
				google, ok := cfg.Config.Providers[2].ClientConfig.(GoogleAIClientConfig)
				require.True(t, ok)
				assert.True(t, google.UseVertexAI())
				assert.IsType(t, DeepseekClientConfig{}, cfg.Config.Providers[3].ClientConfig)
				assert.Equal(t, BedrockClientConfig{Region: "us-east-1"}, cfg.Config.Providers[4].ClientConfig)
				assert.Equal(t, SEMOSSClientConfig{
					Endpoint:  "https://semoss.example.com/Monolith/api",
					AccessKey: "access",
					SecretKey: "c3a8d2c1-7c6f-4e0a-8f7e-0e61b3b5d9a2",
				}, cfg.Config.Providers[5].ClientConfig)

				enabled := cfg.Config.GetEnabledProviders()
				require.Len(t, enabled, 5)
				for _, provider := range enabled {
					assert.NotEqual(t, BEDROCK, provider.Name)
				}

				require.Len(t, cfg.Config.Models, 2)
				assert.True(t, cfg.Config.Models[0].ConfirmerOnly)
				assert.Equal(t, map[string]bool{"prompt_with_image_urls": false}, cfg.Config.Models[1].Capabilities)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadConfigFromFile(tt.args.ctx, tt.args.path)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				tt.want(t, got)
			}
		})
	}
}

func TestValidateModel(t *testing.T) {
	tests := []struct {
		name    string
		model   ModelConfig
		wantErr bool
	}{
		{
			name:  "valid",
			model: ModelConfig{ID: "id", Name: "Name", Client: "OpenAI", Provider: OPENAI},
		},
		{
			name:    "missing id",
			model:   ModelConfig{Name: "Name", Client: "OpenAI", Provider: OPENAI},
			wantErr: true,
		},
		{
			name:    "missing provider",
			model:   ModelConfig{ID: "id", Name: "Name", Client: "OpenAI"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModel(tt.model)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateClientConfig(t *testing.T) {
	assert.ErrorIs(t, ValidateClientConfig(nil), ErrInvalidConfigProperty)
	assert.ErrorIs(t, ValidateClientConfig(SEMOSSClientConfig{Endpoint: "not a url", AccessKey: "a", SecretKey: "s"}), ErrInvalidConfigProperty)
	assert.ErrorIs(t, ValidateClientConfig(SEMOSSClientConfig{Endpoint: "https://semoss.example.com/api"}), ErrInvalidConfigProperty)
	assert.NoError(t, ValidateClientConfig(SEMOSSClientConfig{Endpoint: "https://semoss.example.com/api", AccessKey: "a", SecretKey: "s"}))
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(""))
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := testutils.CreateMockFile(t, "*.env", []byte("PGT_TEST_ENV_FILE_VALUE=from-file\n"))
	t.Setenv("PGT_TEST_ENV_FILE_VALUE", "")
	require.NoError(t, os.Unsetenv("PGT_TEST_ENV_FILE_VALUE"))
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("PGT_TEST_ENV_FILE_VALUE"))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("PGT_TEST_EXPAND", "value")
	assert.Equal(t, "key: value", string(expandEnv([]byte("key: ${PGT_TEST_EXPAND}"))))
	assert.Equal(t, "key: ", string(expandEnv([]byte("key: ${PGT_TEST_UNDEFINED_VARIABLE}"))))
}

func TestIsNotBlank(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{
			name:  "empty string",
			value: "",
			want:  false,
		},
		{
			name:  "multi-space",
			value: " \t \t  ",
			want:  false,
		},
		{
			name:  "value",
			value: "Ball Networked",
			want:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotBlank(tt.value))
		})
	}
}

func TestMakeAbs(t *testing.T) {
	tests := []struct {
		name       string
		baseDir    string
		filePath   string
		wantResult string
	}{
		{
			name:       "absolute file path",
			baseDir:    os.TempDir(),
			filePath:   filepath.Join(os.TempDir(), "absolute", "path", "file.txt"),
			wantResult: filepath.Join(os.TempDir(), "absolute", "path", "file.txt"),
		},
		{
			name:       "relative file path",
			baseDir:    os.TempDir(),
			filePath:   filepath.Join("relative", "path", "file.txt"),
			wantResult: filepath.Join(os.TempDir(), "relative", "path", "file.txt"),
		},
		{
			name:       "blank file path",
			baseDir:    os.TempDir(),
			filePath:   "",
			wantResult: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantResult, MakeAbs(tt.baseDir, tt.filePath))
		})
	}
}

func TestCleanIfNotBlank(t *testing.T) {
	assert.Equal(t, "", CleanIfNotBlank(""))
	assert.Equal(t, "   ", CleanIfNotBlank("   "))
	assert.Equal(t, filepath.Join("path", "to", "file.txt"), CleanIfNotBlank("path/./to/../to/file.txt"))
}
