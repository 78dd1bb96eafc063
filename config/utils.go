// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadEnvFile loads environment variables from the given dotenv file.
// Variables already present in the environment are not overridden.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if !IsNotBlank(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load environment file: %w", err)
	}
	return nil
}

// LoadConfigFromFile reads and validates application configuration from the specified file path.
// References of the form ${VAR} are replaced with values of environment variables before parsing.
// Returns error if the file cannot be read or contains invalid configuration.
func LoadConfigFromFile(ctx context.Context, path string) (*Config, error) {
	fileContents, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := &Config{}
	if err := yamlUnmarshalStrict(expandEnv(fileContents), cfg); err != nil {
		return nil, fmt.Errorf("malformed configuration file: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration definition: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg.Config.LogFile = CleanIfNotBlank(MakeAbs(baseDir, cfg.Config.LogFile))
	cfg.Config.Run.TestSource = CleanIfNotBlank(MakeAbs(baseDir, cfg.Config.Run.TestSource))

	return cfg, nil
}

// ValidateModel checks a single catalog entry.
func ValidateModel(model ModelConfig) error {
	if err := validate.Struct(model); err != nil {
		return fmt.Errorf("invalid model definition: %w", err)
	}
	return nil
}

// ValidateClientConfig checks provider client settings supplied outside of the configuration file.
func ValidateClientConfig(cfg ClientConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: missing client-config", ErrInvalidConfigProperty)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfigProperty, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return io.ReadAll(fp)
}

// expandEnv substitutes ${VAR} references. Bare $ signs are kept as they are.
func expandEnv(in []byte) []byte {
	return []byte(os.Expand(string(in), func(key string) string {
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		return ""
	}))
}

// yamlUnmarshalStrict is a helper function for strict YAML unmarshaling that fails on unknown fields.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	// NOTE: currently does not propagate to custom unmarshalers:
	// https://github.com/go-yaml/yaml/issues/460
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true) // fail on unknown fields
	return decoder.Decode(out)
}

// IsNotBlank returns true if the given string contains non-whitespace characters.
func IsNotBlank(value string) bool {
	return len(strings.TrimSpace(value)) > 0
}

// MakeAbs converts relative file path to absolute using the given base directory.
// Returns original path if it's already absolute or blank.
func MakeAbs(baseDirPath string, filePath string) string {
	if IsNotBlank(filePath) {
		if filepath.IsAbs(filePath) {
			return filePath
		}
		return filepath.Join(baseDirPath, filePath)
	}
	return filePath
}

// CleanIfNotBlank cleans the given file path if it's not blank.
// Returns original path if it's blank.
func CleanIfNotBlank(filePath string) string {
	if IsNotBlank(filePath) {
		return filepath.Clean(filePath)
	}
	return filePath
}
