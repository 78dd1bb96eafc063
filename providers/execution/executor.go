// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package execution provides unified provider execution patterns.
// It handles common execution concerns such as retry logic, rate limiting and
// invocation timeouts that are shared between the orchestrator and the confirmer.
package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/petmal/playgroundtester/config"
	"github.com/petmal/playgroundtester/pkg/logging"
	"github.com/petmal/playgroundtester/providers"
	"github.com/petmal/playgroundtester/registry"
)

// BackoffWithCallback wraps a retry.Backoff with a callback function that is called
// before each retry attempt. The callback receives the next retry attempt number
// and the delay duration.
func BackoffWithCallback(onBackoff func(nextRetryAttempt uint64, nextDelay time.Duration), next retry.Backoff) retry.Backoff {
	var retryCounter uint64 = 0
	return retry.BackoffFunc(func() (nextDelay time.Duration, stop bool) {
		nextDelay, stop = next.Next()
		if stop {
			return
		}

		nextRetry := atomic.AddUint64(&retryCounter, 1)
		onBackoff(nextRetry, nextDelay)

		return
	})
}

// Executor runs invocations of one provider, applying the provider's rate limit,
// invocation timeout and retry policy. It is safe for concurrent use.
type Executor struct {
	Provider providers.Provider
	Config   config.ProviderConfig
	limiter  *rate.Limiter
}

// NewExecutor creates a new executor for the given provider and its configuration.
func NewExecutor(provider providers.Provider, cfg config.ProviderConfig) *Executor {
	var limiter *rate.Limiter
	if cfg.MaxRequestsPerMinute > 0 {
		ratePerSecond := rate.Limit(cfg.MaxRequestsPerMinute) / 60
		limiter = rate.NewLimiter(ratePerSecond, cfg.MaxRequestsPerMinute) // allow a burst up to the per-minute limit
	}

	return &Executor{
		Provider: provider,
		Config:   cfg,
		limiter:  limiter,
	}
}

// Execute runs the test case against the model. Transient failures are retried as configured.
// The result of the last attempt is returned even when an error is returned.
func (e *Executor) Execute(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (providers.Result, error) {
	if e.Config.RetryPolicy.MaxRetryAttempts > 0 {
		return e.executeWithRetry(ctx, logger, model, test)
	}
	return e.executeOnce(ctx, logger, model, test)
}

func (e *Executor) executeWithRetry(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result providers.Result, err error) {
	initialDelay := time.Duration(e.Config.RetryPolicy.InitialDelaySeconds) * time.Second
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	backoff := retry.NewExponential(initialDelay)
	backoff = retry.WithMaxRetries(uint64(e.Config.RetryPolicy.MaxRetryAttempts), backoff)
	backoff = BackoffWithCallback(func(nextRetryAttempt uint64, nextDelay time.Duration) {
		logger.Message(ctx, logging.LevelInfo, "retrying '%s' on '%s' %d/%d in %v",
			test.Key, model.ID, nextRetryAttempt, e.Config.RetryPolicy.MaxRetryAttempts, nextDelay)
	}, backoff)

	var lastErr error
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, lastErr = e.executeOnce(ctx, logger, model, test)
		if errors.Is(lastErr, providers.ErrRetryable) {
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})
	if err != nil && ctx.Err() != nil && lastErr != nil {
		// The outer deadline ended the retry loop; report the last attempt's failure.
		return result, lastErr
	}
	return result, err
}

func (e *Executor) executeOnce(ctx context.Context, logger logging.Logger, model registry.Entry, test config.TestCase) (result providers.Result, err error) {
	if err = ctx.Err(); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "aborting '%s' on '%s'", test.Key, model.ID)
		return result, asTimeout(err)
	}

	if e.limiter != nil {
		if err = e.limiter.Wait(ctx); err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "aborting '%s' on '%s'", test.Key, model.ID)
			return result, asTimeout(err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.Config.GetRequestTimeout())
	defer cancel()

	result, err = e.Provider.Run(attemptCtx, logger, model, test)
	if err != nil && attemptCtx.Err() != nil {
		err = asTimeout(err)
	}
	if errors.Is(err, providers.ErrRetryable) {
		logger.Error(ctx, logging.LevelWarn, err, "'%s' on '%s' encountered a transient error", test.Key, model.ID)
	}
	return result, err
}

// asTimeout classifies context expiry as a timeout. Cancellation is left untouched.
func asTimeout(err error) error {
	var providerErr *providers.ProviderError
	if errors.As(err, &providerErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return providers.NewProviderError(providers.Timeout, 0, err)
}
