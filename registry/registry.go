// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package registry holds the read-only model catalog and test case library
// loaded once at startup.
package registry

import (
	"context"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
)

// Model is a public catalog entry.
type Model struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Client string `json:"client"`
	Type   string `json:"type"`
}

// Entry is a catalog entry together with the routing details needed to invoke it.
type Entry struct {
	Model
	// Provider is the name of the provider serving the model.
	Provider string
	// TargetModel is the backend model name.
	TargetModel string
	// ConfirmerOnly entries are hidden from the public catalog.
	ConfirmerOnly bool

	capabilities map[string]bool
}

// Target returns the backend model name, falling back to the model ID.
func (e Entry) Target() string {
	if config.IsNotBlank(e.TargetModel) {
		return e.TargetModel
	}
	return e.ID
}

// Supports reports whether the model can run the given test. Tests without an explicit flag are supported.
func (e Entry) Supports(testKey string) bool {
	if supported, ok := e.capabilities[testKey]; ok {
		return supported
	}
	return true
}

// Registry is safe for concurrent reads. It is never mutated after New returns.
type Registry struct {
	entries    []Entry
	entryByID  map[string]Entry
	tests      []config.TestCase
	testsByKey map[string]config.TestCase
}

// New builds a registry from configuration. Disabled, invalid and duplicate entries,
// as well as models bound to an unknown or disabled provider, are dropped with a warning.
// Run results are keyed by model name, so public models must have distinct names.
func New(ctx context.Context, logger logging.Logger, models []config.ModelConfig, providers []config.ProviderConfig, tests []config.TestCase) *Registry {
	r := &Registry{
		entryByID:  make(map[string]Entry, len(models)),
		testsByKey: make(map[string]config.TestCase, len(tests)),
	}

	for _, test := range tests {
		switch {
		case test.Disabled:
			continue
		case test.Key == "":
			logger.Message(ctx, logging.LevelWarn, "dropping test case without key")
			continue
		case r.hasTest(test.Key):
			logger.Message(ctx, logging.LevelWarn, "dropping duplicate test case '%s'", test.Key)
			continue
		}
		if err := test.Validate(); err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "dropping test case '%s'", test.Key)
			continue
		}
		r.tests = append(r.tests, test)
		r.testsByKey[test.Key] = test
	}

	modelByName := make(map[string]string, len(models))
	enabledProviders := make(map[string]bool, len(providers))
	for _, provider := range providers {
		enabledProviders[provider.Name] = !provider.Disabled
	}

	for i, model := range models {
		if model.Disabled {
			continue
		}
		if err := config.ValidateModel(model); err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "dropping model #%d '%s'", i, model.ID)
			continue
		}
		if _, ok := r.entryByID[model.ID]; ok {
			logger.Message(ctx, logging.LevelWarn, "dropping duplicate model '%s'", model.ID)
			continue
		}
		if enabled, ok := enabledProviders[model.Provider]; !ok {
			logger.Message(ctx, logging.LevelWarn, "dropping model '%s': provider '%s' is not configured", model.ID, model.Provider)
			continue
		} else if !enabled {
			logger.Message(ctx, logging.LevelDebug, "dropping model '%s': provider '%s' is disabled", model.ID, model.Provider)
			continue
		}
		if !model.ConfirmerOnly {
			if owner, ok := modelByName[model.Name]; ok {
				logger.Message(ctx, logging.LevelWarn, "dropping model '%s': name '%s' is already used by model '%s'", model.ID, model.Name, owner)
				continue
			}
			modelByName[model.Name] = model.ID
		}
		for testKey := range model.Capabilities {
			if !r.hasTest(testKey) {
				logger.Message(ctx, logging.LevelWarn, "model '%s' declares capability for unknown test '%s'", model.ID, testKey)
			}
		}

		entry := Entry{
			Model: Model{
				ID:     model.ID,
				Name:   model.Name,
				Client: model.Client,
				Type:   model.Type,
			},
			Provider:      model.Provider,
			TargetModel:   model.TargetModel,
			ConfirmerOnly: model.ConfirmerOnly,
			capabilities:  model.Capabilities,
		}
		r.entries = append(r.entries, entry)
		r.entryByID[entry.ID] = entry
	}

	return r
}

func (r *Registry) hasTest(key string) bool {
	_, ok := r.testsByKey[key]
	return ok
}

// ListModels returns the public catalog in configuration order.
func (r *Registry) ListModels() []Model {
	models := make([]Model, 0, len(r.entries))
	for _, entry := range r.entries {
		if !entry.ConfirmerOnly {
			models = append(models, entry.Model)
		}
	}
	return models
}

// ListTestKeys returns the keys of the test case library in definition order.
func (r *Registry) ListTestKeys() []string {
	keys := make([]string, 0, len(r.tests))
	for _, test := range r.tests {
		keys = append(keys, test.Key)
	}
	return keys
}

// Model returns the public catalog entry with the given ID.
func (r *Registry) Model(id string) (Entry, bool) {
	entry, ok := r.entryByID[id]
	if !ok || entry.ConfirmerOnly {
		return Entry{}, false
	}
	return entry, true
}

// Confirmer returns any catalog entry, including confirmer-only ones, with the given ID.
func (r *Registry) Confirmer(id string) (Entry, bool) {
	entry, ok := r.entryByID[id]
	return entry, ok
}

// TestCase returns the test case with the given key.
func (r *Registry) TestCase(key string) (config.TestCase, bool) {
	test, ok := r.testsByKey[key]
	return test, ok
}
