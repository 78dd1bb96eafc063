// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/confirmers"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/pkg/utils"
	"github.com/petmal/playgroundtester/providers"
	"github.com/petmal/playgroundtester/providers/execution"
	"github.com/petmal/playgroundtester/registry"
)

const tracerName = "github.com/petmal/playgroundtester/runners"

// defaultAbandonGracePeriod is how long pairs may keep running after the run deadline before they are abandoned.
const defaultAbandonGracePeriod = 2 * time.Second

// ErrRunDeadlineExceeded is reported for pairs still unfinished when the run deadline expires.
var ErrRunDeadlineExceeded = errors.New("run deadline exceeded")

// ConfirmerFactory creates the confirmer backed by the given model and the executor of its provider.
type ConfirmerFactory func(judge registry.Entry, executor *execution.Executor) confirmers.Confirmer

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records orchestration metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithConfirmerFactory replaces the default judge confirmer.
func WithConfirmerFactory(factory ConfirmerFactory) Option {
	return func(o *Orchestrator) {
		o.confirmerFactory = factory
	}
}

// WithAbandonGracePeriod sets how long unfinished pairs are awaited after the run deadline.
func WithAbandonGracePeriod(period time.Duration) Option {
	return func(o *Orchestrator) {
		o.abandonGracePeriod = period
	}
}

// Orchestrator is the default Runner. Providers and their executors are created on first
// use and shared by all requests, so rate limits hold across concurrent requests.
type Orchestrator struct {
	registry           *registry.Registry
	providerConfigs    map[string]config.ProviderConfig
	settings           config.RunSettings
	factory            providers.Factory
	logger             logging.Logger
	metrics            *Metrics
	confirmerFactory   ConfirmerFactory
	abandonGracePeriod time.Duration
	tracer             trace.Tracer

	executorsLock sync.Mutex
	executors     map[string]*execution.Executor
}

// NewOrchestrator creates a new Orchestrator running models of the registry on the configured providers.
func NewOrchestrator(reg *registry.Registry, providerConfigs []config.ProviderConfig, settings config.RunSettings, factory providers.Factory, logger logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:           reg,
		providerConfigs:    make(map[string]config.ProviderConfig, len(providerConfigs)),
		settings:           settings,
		factory:            factory,
		logger:             logger,
		confirmerFactory:   confirmers.NewJudgeConfirmer,
		abandonGracePeriod: defaultAbandonGracePeriod,
		tracer:             otel.Tracer(tracerName),
		executors:          make(map[string]*execution.Executor),
	}
	for _, providerConfig := range providerConfigs {
		o.providerConfigs[providerConfig.Name] = providerConfig
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Run(ctx context.Context, request Request) (RunResult, error) {
	models, tests, judge, err := o.validate(request)
	if err != nil {
		o.metrics.runFinished("invalid")
		return nil, err
	}

	runID := uuid.NewString()
	logger := o.logger.WithContext(fmt.Sprintf("run %s: ", runID))
	ctx, span := o.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.models", len(models)),
		attribute.Int("run.tests", len(tests)),
		attribute.String("run.confirmer", judge.ID),
	))
	defer span.End()

	scope := o.newScope(request.Deployment)
	defer scope.close(ctx, logger)

	if executor, err := scope.executor(ctx, judge.Provider); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "confirmer '%s' is unavailable", judge.ID)
	} else {
		scope.confirmer = o.confirmerFactory(judge, executor)
	}

	result := make(RunResult, len(models))
	var pairs []pair
	for _, model := range models {
		testResults := make(TestResults)
		for _, key := range o.registry.ListTestKeys() {
			testResults[key] = nil
		}
		result[model.Name] = testResults

		for _, test := range tests {
			if !model.Supports(test.Key) {
				logger.Message(ctx, logging.LevelDebug, "%s: %s: skipping unsupported test", model.ID, test.Key)
				o.metrics.pairFinished(model.Provider, test.Key, outcomeSkipped, 0)
				continue
			}
			pairs = append(pairs, pair{model: model, test: test})
		}
	}

	logger.Message(ctx, logging.LevelInfo, "starting %d pair%s on %d model%s with confirmer '%s'...",
		pluralize(countable(len(pairs)), countable(len(models)), judge.ID)...)
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.settings.GetRunTimeout())
	defer cancel()

	results := newCollector(result, pairs)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(o.settings.GetMaxParallelPairs())
		for _, p := range pairs {
			g.Go(func() error {
				results.record(p, o.runPair(runCtx, logger, scope, p))
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		select {
		case <-done:
		case <-time.After(o.abandonGracePeriod):
			logger.Message(ctx, logging.LevelWarn, "abandoning pairs still running after the run deadline")
		}
	}

	result = results.finish()
	run, succeeded := result.Count()
	span.SetAttributes(attribute.Int("run.pairs", run), attribute.Int("run.succeeded", succeeded))
	logger.Message(ctx, logging.LevelInfo, "all pairs have finished in %s: %d of %d succeeded.", time.Since(start), succeeded, run)
	o.metrics.runFinished("ok")
	return result, nil
}

// validate resolves the requested ids. Any unknown id rejects the whole request.
func (o *Orchestrator) validate(request Request) (models []registry.Entry, tests []config.TestCase, judge registry.Entry, err error) {
	modelIDs := utils.NewStringSet(request.Models...)
	testKeys := utils.NewStringSet(request.Tests...)
	if modelIDs.Len() == 0 {
		return nil, nil, judge, newValidationError("no models selected")
	}
	if testKeys.Len() == 0 {
		return nil, nil, judge, newValidationError("no tests selected")
	}

	var unknown []string
	for _, id := range modelIDs.Values() {
		if model, ok := o.registry.Model(id); ok {
			models = append(models, model)
		} else {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, judge, newValidationError("%d unknown model%s: %s", pluralize(countable(len(unknown)), quoteAll(unknown))...)
	}

	for _, key := range testKeys.Values() {
		if test, ok := o.registry.TestCase(key); ok {
			tests = append(tests, test)
		} else {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, judge, newValidationError("%d unknown test%s: %s", pluralize(countable(len(unknown)), quoteAll(unknown))...)
	}

	judgeID := request.ConfirmerModel
	if !config.IsNotBlank(judgeID) {
		judgeID = o.settings.GetDefaultConfirmer()
	}
	judge, ok := o.registry.Confirmer(judgeID)
	if !ok {
		return nil, nil, judge, newValidationError("unknown confirmer model: '%s'", judgeID)
	}

	if request.Deployment != nil {
		if err := config.ValidateClientConfig(*request.Deployment); err != nil {
			return nil, nil, judge, newValidationError("invalid deployment: %v", err)
		}
	}
	return models, tests, judge, nil
}

func (o *Orchestrator) runPair(ctx context.Context, logger logging.Logger, scope *requestScope, p pair) (response *StandardResponse) {
	model, test := p.model, p.test
	logger = logger.WithContext(fmt.Sprintf("%s: %s: ", model.ID, test.Key))
	ctx, span := o.tracer.Start(ctx, "pair", trace.WithAttributes(
		attribute.String("model.id", model.ID),
		attribute.String("model.provider", model.Provider),
		attribute.String("test.key", test.Key),
	))
	defer span.End()

	response = newResponse(model)
	outcome := outcomeError
	start := time.Now()
	o.metrics.pairStarted()
	defer func() {
		if r := recover(); r != nil {
			logger.Message(ctx, logging.LevelError, "recovered from panic: %v", r)
			response.Response = fmt.Sprintf("panic: %v", r)
			response.Success = false
			outcome = outcomeError
		}
		response.Duration = time.Since(start)
		span.SetAttributes(attribute.Bool("pair.success", response.Success), attribute.String("pair.outcome", outcome))
		o.metrics.pairFinished(model.Provider, test.Key, outcome, response.Duration)
		logger.Message(ctx, logging.LevelInfo, "pair has finished in %s (%s).", response.Duration, outcome)
	}()

	logger.Message(ctx, logging.LevelInfo, "starting pair...")
	executor, err := scope.executor(ctx, model.Provider)
	if err != nil {
		logger.Error(ctx, logging.LevelError, err, "provider is unavailable")
		span.SetStatus(codes.Error, err.Error())
		response.Response = err.Error()
		return response
	}

	result, err := executor.Execute(ctx, logger, model, test)
	response.Pixel = result.GetPixels()
	logger.Message(ctx, logging.LevelTrace, "prompts:\n%s", logging.FormatLogText(result.GetPrompts()))
	logger.Message(ctx, logging.LevelTrace, "pixels:\n%s", logging.FormatLogText(response.Pixel))
	if err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "pair failed (%s)", providers.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		response.Response = err.Error()
		if providers.KindOf(err) == providers.Timeout {
			outcome = outcomeTimeout
		}
		return response
	}
	response.Response = result.Text
	response.Success = true
	outcome = outcomeSuccess

	if !test.RequiresConfirmation() {
		return response
	}
	if scope.confirmer == nil {
		logger.Message(ctx, logging.LevelWarn, "no confirmer available; keeping the adapter result")
		o.metrics.confirmationFinished(outcomeError)
		return response
	}

	verdict, err := scope.confirmer.Confirm(ctx, logger, test, result.Text)
	if err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "confirmation failed; keeping the adapter result")
		o.metrics.confirmationFinished(outcomeError)
		return response
	}
	response.ConfirmationResponse = &verdict.ConfirmationResponse
	response.Success = verdict.Confirmed
	if verdict.Confirmed {
		o.metrics.confirmationFinished(outcomeSuccess)
	} else {
		o.metrics.confirmationFinished(outcomeRejected)
		outcome = outcomeFailure
	}
	return response
}

// executor returns the shared executor of the named provider, creating the provider on first use.
func (o *Orchestrator) executor(ctx context.Context, name string) (*execution.Executor, error) {
	o.executorsLock.Lock()
	defer o.executorsLock.Unlock()
	if executor, ok := o.executors[name]; ok {
		return executor, nil
	}
	providerConfig, ok := o.providerConfigs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownProviderName, name)
	}
	provider, err := o.factory(ctx, providerConfig)
	if err != nil {
		return nil, err
	}
	executor := execution.NewExecutor(provider, providerConfig)
	o.executors[name] = executor
	return executor, nil
}

func (o *Orchestrator) Close(ctx context.Context) {
	o.executorsLock.Lock()
	defer o.executorsLock.Unlock()
	for name, executor := range o.executors {
		if err := utils.NoPanic(func() error { return executor.Provider.Close(ctx) }); err != nil {
			o.logger.Error(ctx, logging.LevelWarn, err, "%s: failed to close provider", name)
		}
	}
	o.executors = make(map[string]*execution.Executor)
}

type pair struct {
	model registry.Entry
	test  config.TestCase
}

func newResponse(model registry.Entry) *StandardResponse {
	return &StandardResponse{
		ModelName: model.Name,
		ModelID:   model.ID,
		Client:    model.Client,
		Pixel:     []string{},
	}
}

// requestScope holds the per-request view of the executors.
type requestScope struct {
	orchestrator *Orchestrator
	deployment   *config.SEMOSSClientConfig
	confirmer    confirmers.Confirmer

	lock  sync.Mutex
	owned map[string]*execution.Executor
}

func (o *Orchestrator) newScope(deployment *config.SEMOSSClientConfig) *requestScope {
	return &requestScope{
		orchestrator: o,
		deployment:   deployment,
		owned:        make(map[string]*execution.Executor),
	}
}

// executor returns the executor for the named provider. With a deployment override,
// the SEMOSS provider is created for this request only.
func (s *requestScope) executor(ctx context.Context, name string) (*execution.Executor, error) {
	if s.deployment == nil || name != config.SEMOSS {
		return s.orchestrator.executor(ctx, name)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if executor, ok := s.owned[name]; ok {
		return executor, nil
	}
	providerConfig, ok := s.orchestrator.providerConfigs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownProviderName, name)
	}
	providerConfig.ClientConfig = *s.deployment
	provider, err := s.orchestrator.factory(ctx, providerConfig)
	if err != nil {
		return nil, err
	}
	executor := execution.NewExecutor(provider, providerConfig)
	s.owned[name] = executor
	return executor, nil
}

func (s *requestScope) close(ctx context.Context, logger logging.Logger) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for name, executor := range s.owned {
		if err := utils.NoPanic(func() error { return executor.Provider.Close(ctx) }); err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "%s: failed to close provider", name)
		}
	}
}

// collector assembles pair results. Once finished, late results are discarded and
// pairs that never reported are recorded as timed out.
type collector struct {
	lock     sync.Mutex
	result   RunResult
	pending  map[pairKey]registry.Entry
	finished bool
}

type pairKey struct {
	model string
	test  string
}

func newCollector(result RunResult, pairs []pair) *collector {
	pending := make(map[pairKey]registry.Entry, len(pairs))
	for _, p := range pairs {
		pending[pairKey{model: p.model.Name, test: p.test.Key}] = p.model
	}
	return &collector{
		result:  result,
		pending: pending,
	}
}

func (c *collector) record(p pair, response *StandardResponse) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.finished {
		return
	}
	key := pairKey{model: p.model.Name, test: p.test.Key}
	delete(c.pending, key)
	c.result[key.model][key.test] = response
}

func (c *collector) finish() RunResult {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.finished = true
	for key, model := range c.pending {
		response := newResponse(model)
		response.Response = providers.NewProviderError(providers.Timeout, 0, ErrRunDeadlineExceeded).Error()
		c.result[key.model][key.test] = response
	}
	c.pending = nil
	return c.result
}
