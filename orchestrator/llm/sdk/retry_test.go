// Copyright 2025 ProcureSense
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classifiedError mimics a provider error carrying its own retryability.
type classifiedError struct {
	retryable bool
}

func (e *classifiedError) Error() string     { return "classified failure" }
func (e *classifiedError) IsRetryable() bool { return e.retryable }

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
		RetryIf:        DefaultRetryable,
	}
}

func TestDefaultRetryable(t *testing.T) {
	assert.False(t, DefaultRetryable(nil))
	assert.False(t, DefaultRetryable(errors.New("plain failure")))
	assert.True(t, DefaultRetryable(context.DeadlineExceeded))
	assert.True(t, DefaultRetryable(&classifiedError{retryable: true}))
	assert.False(t, DefaultRetryable(&classifiedError{retryable: false}))

	wrapped := errors.New("wrapped")
	assert.True(t, DefaultRetryable(errors.Join(wrapped, &classifiedError{retryable: true})))
}

func TestRetryWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &classifiedError{retryable: true}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	permanent := &classifiedError{retryable: false}
	_, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		attempts++
		return "", permanent
	})

	assert.ErrorIs(t, err, error(permanent))
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoffExhaustsRetries(t *testing.T) {
	attempts := 0
	_, err := RetryWithBackoff(context.Background(), fastRetryConfig(2), func(ctx context.Context) (string, error) {
		attempts++
		return "", &classifiedError{retryable: true}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := fastRetryConfig(5)
	config.InitialBackoff = time.Second
	config.MaxBackoff = time.Second

	_, err := RetryWithBackoff(ctx, config, func(ctx context.Context) (string, error) {
		cancel()
		return "", &classifiedError{retryable: true}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.InitialBackoff)
	assert.Equal(t, 30*time.Second, config.MaxBackoff)
	assert.NotNil(t, config.RetryIf)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)

	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}
