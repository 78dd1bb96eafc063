// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package mock provides a scriptable provider for tests of the components
// that drive providers.
package mock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/providers"
	"github.com/petmal/playgroundtester/registry"
)

// Responder produces the outcome of one invocation. Attempt starts at 1 and counts
// invocations of the same model and test case.
type Responder func(ctx context.Context, model registry.Entry, test config.TestCase, attempt int) (providers.Result, error)

// Call records one invocation of the provider.
type Call struct {
	Model string
	Test  string
}

// Provider is a providers.Provider whose behavior is defined by a Responder.
type Provider struct {
	name    string
	respond Responder

	mu       sync.Mutex
	calls    []Call
	attempts map[Call]int
	closed   bool
}

// New creates a mock provider with the given name and behavior.
func New(name string, respond Responder) *Provider {
	return &Provider{
		name:     name,
		respond:  respond,
		attempts: make(map[Call]int),
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Run(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (providers.Result, error) {
	call := Call{Model: model.ID, Test: test.Key}
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.attempts[call]++
	attempt := p.attempts[call]
	p.mu.Unlock()

	logger.Message(ctx, logging.LevelDebug, "mock %s: running '%s' on '%s' (attempt %d)", p.name, test.Key, model.ID, attempt)
	return p.respond(ctx, model, test, attempt)
}

// Calls returns the invocations made so far, in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Echo answers every test case with its prompt and a single pixel naming the model.
func Echo(ctx context.Context, model registry.Entry, test config.TestCase, attempt int) (providers.Result, error) {
	return providers.NewResult(test.Prompt, Pixel(model, test)), nil
}

// Pixel returns the pixel recorded by Echo.
func Pixel(model registry.Entry, test config.TestCase) string {
	return fmt.Sprintf(`Mock(engine=["%s"], test=["%s"])`, model.Target(), test.Key)
}

// Fixed answers every test case with the given text.
func Fixed(text string) Responder {
	return func(ctx context.Context, model registry.Entry, test config.TestCase, attempt int) (providers.Result, error) {
		return providers.NewResult(text, Pixel(model, test)), nil
	}
}

// Failing fails every invocation with a malformed request error.
func Failing(message string) Responder {
	return func(ctx context.Context, model registry.Entry, test config.TestCase, attempt int) (providers.Result, error) {
		return providers.NewResult("", Pixel(model, test)), providers.NewProviderError(providers.MalformedRequest, http.StatusBadRequest, errors.New(message))
	}
}

// FlakyThen fails the first failures attempts with a rate limit error and then delegates to next.
func FlakyThen(failures int, next Responder) Responder {
	return func(ctx context.Context, model registry.Entry, test config.TestCase, attempt int) (providers.Result, error) {
		if attempt <= failures {
			return providers.NewResult("", Pixel(model, test)), providers.NewProviderError(providers.RateLimited, http.StatusTooManyRequests, errors.New("mock transient error"))
		}
		return next(ctx, model, test, attempt)
	}
}

// Blocking waits until the context is done and returns its error.
func Blocking(ctx context.Context, model registry.Entry, test config.TestCase, attempt int) (providers.Result, error) {
	<-ctx.Done()
	return providers.NewResult("", Pixel(model, test)), ctx.Err()
}

// Factory returns a providers.Factory handing out the given mocks by provider name.
func Factory(mocks ...*Provider) providers.Factory {
	byName := make(map[string]*Provider, len(mocks))
	for _, m := range mocks {
		byName[m.Name()] = m
	}
	return func(ctx context.Context, cfg config.ProviderConfig) (providers.Provider, error) {
		if m, ok := byName[cfg.Name]; ok {
			return m, nil
		}
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownProviderName, cfg.Name)
	}
}
