// SPDX-License-Identifier: Apache-2.0

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("oh noes")

func TestProvider_RetryNotify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		config    *Config
		opErrs    []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "nil config runs once",
			config:    nil,
			opErrs:    []error{errTest},
			wantCalls: 1,
			wantErr:   errTest,
		},
		{
			name: "constant retries until success",
			config: &Config{Constant: &ConstantConfig{
				Interval:   time.Millisecond,
				MaxRetries: 5,
			}},
			opErrs:    []error{errTest, errTest, nil},
			wantCalls: 3,
		},
		{
			name: "permanent error stops retries",
			config: &Config{Exponential: &ExponentialConfig{
				InitialInterval: time.Millisecond,
				MaxInterval:     time.Second,
				MaxRetries:      5,
			}},
			opErrs:    []error{Permanent(errTest)},
			wantCalls: 1,
			wantErr:   errTest,
		},
		{
			name: "max retries exhausted",
			config: &Config{Constant: &ConstantConfig{
				Interval:   time.Millisecond,
				MaxRetries: 2,
			}},
			opErrs:    []error{errTest, errTest, errTest, errTest},
			wantCalls: 3,
			wantErr:   errTest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			op := func() error {
				err := tc.opErrs[calls]
				calls++
				return err
			}

			bo := NewProvider(tc.config)(context.Background())
			err := bo.RetryNotify(op, func(error, time.Duration) {})
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantCalls, calls)
		})
	}
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	require.Nil(t, Permanent(nil))
	err := Permanent(errTest)
	require.ErrorIs(t, err, ErrPermanent)
	require.ErrorIs(t, err, errTest)
	require.True(t, (&Config{Constant: &ConstantConfig{}}).IsSet())
	require.False(t, (*Config)(nil).IsSet())
}
