package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_ZeroSpeedDoesNotBlock(t *testing.T) {
	rl := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background()), "burst of one")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiter_Throttles(t *testing.T) {
	rl := NewRateLimiter(10)
	start := time.Now()

	// first 10 use the burst, the next 5 need about 500ms
	for i := 0; i < 15; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestRateLimiter_FractionalSpeed(t *testing.T) {
	rl := NewRateLimiter(0.5)
	assert.Equal(t, 0.5, rl.Rate())

	require.NoError(t, rl.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx), "second token needs two seconds")
}

func TestRateLimiter_SetRate(t *testing.T) {
	rl := NewRateLimiter(1000)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}

	rl.SetRate(0)
	assert.Equal(t, 0.0, rl.Rate())
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	rl.SetRate(20)
	assert.Equal(t, 20.0, rl.Rate())
}

func TestRateLimiter_ConcurrentWait(t *testing.T) {
	rl := NewRateLimiter(1000)
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				if err := rl.Wait(context.Background()); err != nil {
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
