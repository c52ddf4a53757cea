package ratelimiter_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/metabench/crawlfleet/pkg/ratelimiter"
	"github.com/metabench/crawlfleet/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParam() ratelimiter.AdaptiveParam {
	return ratelimiter.NewAdaptiveParam(
		5,    // capacity
		50,   // baseRefillRate tokens/sec (fast, for test speed)
		4,    // ceilingMultiplier
		0.5,  // decreaseFactor
		1.1,  // increaseFactor
		1,    // minRefillRate
		0,    // jitter
		42,   // randomSeed
		timeutil.NewBackoffParam(10*time.Millisecond, 2.0, 200*time.Millisecond),
	)
}

func TestAcquire_GrantsImmediatelyWhenTokensAvailable(t *testing.T) {
	rl := ratelimiter.NewRateLimiter(testParam())
	ctx := context.Background()

	result := rl.Acquire(ctx, "example.com")
	assert.Equal(t, ratelimiter.AcquireGranted, result.Outcome)
}

func TestAcquire_ConsumesCapacityThenWaitsForRefill(t *testing.T) {
	param := testParam()
	param.Capacity = 1
	param.BaseRefillRate = 100 // 10ms per token
	rl := ratelimiter.NewRateLimiter(param)
	ctx := context.Background()

	first := rl.Acquire(ctx, "example.com")
	require.Equal(t, ratelimiter.AcquireGranted, first.Outcome)

	start := time.Now()
	second := rl.Acquire(ctx, "example.com")
	elapsed := time.Since(start)

	assert.Equal(t, ratelimiter.AcquireGranted, second.Outcome)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}

func TestAcquire_RespectsCrawlDelay(t *testing.T) {
	param := testParam()
	param.Capacity = 5
	param.BaseRefillRate = 1000
	rl := ratelimiter.NewRateLimiter(param)
	rl.SetCrawlDelay("example.com", 50*time.Millisecond)
	ctx := context.Background()

	first := rl.Acquire(ctx, "example.com")
	require.Equal(t, ratelimiter.AcquireGranted, first.Outcome)

	start := time.Now()
	second := rl.Acquire(ctx, "example.com")
	elapsed := time.Since(start)

	assert.Equal(t, ratelimiter.AcquireGranted, second.Outcome)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestAcquire_CancelledContextReturnsPromptly(t *testing.T) {
	param := testParam()
	param.Capacity = 1
	param.BaseRefillRate = 0.001 // effectively never refills within test window
	rl := ratelimiter.NewRateLimiter(param)
	ctx := context.Background()

	first := rl.Acquire(ctx, "example.com")
	require.Equal(t, ratelimiter.AcquireGranted, first.Outcome)

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := rl.Acquire(cancelCtx, "example.com")
	elapsed := time.Since(start)

	assert.Equal(t, ratelimiter.AcquireCancelled, result.Outcome)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestAcquire_FIFOOrderAcrossWaiters(t *testing.T) {
	param := testParam()
	param.Capacity = 1
	param.BaseRefillRate = 200 // 5ms per token
	rl := ratelimiter.NewRateLimiter(param)
	ctx := context.Background()

	first := rl.Acquire(ctx, "example.com")
	require.Equal(t, ratelimiter.AcquireGranted, first.Outcome)

	const n = 5
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			res := rl.Acquire(ctx, "example.com")
			if res.Outcome == ratelimiter.AcquireGranted {
				order <- i
			}
		}(i)
		time.Sleep(2 * time.Millisecond) // stagger arrival so tickets are ordered
	}

	seen := make([]int, 0, n)
	for i := 0; i < n; i++ {
		select {
		case v := <-order:
			seen = append(seen, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for acquisitions")
		}
	}
	require.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, seen[i], "acquisitions should be granted in arrival order")
	}
}

func TestOnResponse_ThrottleStatusSuspendsHost(t *testing.T) {
	rl := ratelimiter.NewRateLimiter(testParam())
	rl.OnResponse("example.com", 429, 100*time.Millisecond)

	result := rl.Acquire(context.Background(), "example.com")
	assert.Equal(t, ratelimiter.AcquireRetryLater, result.Outcome)
	assert.WithinDuration(t, time.Now().Add(100*time.Millisecond), result.ResumeAt, 50*time.Millisecond)
}

func TestOnResponse_SuccessRecoversRefillRateTowardCeiling(t *testing.T) {
	param := testParam()
	rl := ratelimiter.NewRateLimiter(param)

	rl.OnResponse("example.com", 503, 0)
	rl.OnResponse("example.com", 200, 0)
	rl.OnResponse("example.com", 200, 0)

	// exercised indirectly: no panic, and the host still grants tokens.
	result := rl.Acquire(context.Background(), "example.com")
	assert.Equal(t, ratelimiter.AcquireGranted, result.Outcome)
}

func TestOnNetworkError_SuspendsHostWithBackoff(t *testing.T) {
	rl := ratelimiter.NewRateLimiter(testParam())
	rl.OnNetworkError("example.com", ratelimiter.NetworkErrorTCPReset)

	result := rl.Acquire(context.Background(), "example.com")
	assert.Equal(t, ratelimiter.AcquireRetryLater, result.Outcome)
	assert.True(t, result.ResumeAt.After(time.Now()))
}

func TestSetRNG_AllowsDeterministicJitter(t *testing.T) {
	param := testParam()
	param.Jitter = 10 * time.Millisecond
	rl := ratelimiter.NewRateLimiter(param)
	rl.SetRNG(rand.New(rand.NewSource(7)))

	result := rl.Acquire(context.Background(), "example.com")
	assert.Equal(t, ratelimiter.AcquireGranted, result.Outcome)
}

func TestAcquire_IndependentHostsDoNotBlockEachOther(t *testing.T) {
	param := testParam()
	param.Capacity = 1
	param.BaseRefillRate = 0.001
	rl := ratelimiter.NewRateLimiter(param)
	ctx := context.Background()

	first := rl.Acquire(ctx, "a.example.com")
	require.Equal(t, ratelimiter.AcquireGranted, first.Outcome)

	start := time.Now()
	other := rl.Acquire(ctx, "b.example.com")
	elapsed := time.Since(start)

	assert.Equal(t, ratelimiter.AcquireGranted, other.Outcome)
	assert.Less(t, elapsed, 100*time.Millisecond)
}
