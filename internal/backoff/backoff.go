// SPDX-License-Identifier: Apache-2.0

package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Backoff interface {
	RetryNotify(Operation, Notify) error
	Retry(Operation) error
}

type (
	Operation func() error
	Notify    func(error, time.Duration)
)

type Config struct {
	Exponential *ExponentialConfig `mapstructure:"exponential" yaml:"exponential"`
	Constant    *ConstantConfig    `mapstructure:"constant" yaml:"constant"`
}

type ExponentialConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxRetries      uint          `mapstructure:"max_retries" yaml:"max_retries"`
}

type ConstantConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxRetries uint          `mapstructure:"max_retries" yaml:"max_retries"`
}

// ErrPermanent stops any retry loop as soon as an operation returns an error
// wrapping it.
var ErrPermanent = errors.New("permanent error, do not retry")

// Permanent marks err as non retriable while keeping it in the error chain.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Provider func(ctx context.Context) Backoff

// NewProvider returns a backoff provider based on the config on input. If no
// valid input is provided, a no retry backoff provider is returned instead.
func NewProvider(cfg *Config) Provider {
	switch {
	case cfg == nil:
		return func(context.Context) Backoff { return NewStopBackoff() }
	case cfg.Constant != nil:
		return func(ctx context.Context) Backoff {
			return newBackoff(ctx, backoff.NewConstantBackOff(cfg.Constant.Interval), cfg.Constant.MaxRetries)
		}
	case cfg.Exponential != nil:
		return func(ctx context.Context) Backoff {
			exp := backoff.NewExponentialBackOff()
			exp.InitialInterval = cfg.Exponential.InitialInterval
			exp.MaxElapsedTime = cfg.Exponential.MaxInterval
			return newBackoff(ctx, exp, cfg.Exponential.MaxRetries)
		}
	default:
		return func(context.Context) Backoff { return NewStopBackoff() }
	}
}

// IsSet reports whether a retry policy has been configured.
func (c *Config) IsSet() bool {
	return c != nil && (c.Exponential != nil || c.Constant != nil)
}

type retrier struct {
	backoff.BackOff
}

func newBackoff(ctx context.Context, bo backoff.BackOff, maxRetries uint) *retrier {
	if maxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(maxRetries))
	}
	return &retrier{BackOff: backoff.WithContext(bo, ctx)}
}

// NewStopBackoff runs the operation exactly once.
func NewStopBackoff() Backoff {
	return &retrier{BackOff: &backoff.StopBackOff{}}
}

func (r *retrier) Retry(op Operation) error {
	return retryNotify(r, op, nil)
}

func (r *retrier) RetryNotify(op Operation, notify Notify) error {
	return retryNotify(r, op, notify)
}

func retryNotify(b backoff.BackOff, op Operation, notify Notify) error {
	boOp := func() error {
		err := op()
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(boOp, b, backoff.Notify(notify))
}
