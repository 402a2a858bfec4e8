package ratelimit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/ratelimit"
	"github.com/dmitrymomot/newsletter/pkg/redis"
)

func TestRedisPacer_SpacesConcurrentLoops(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{URL: url, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	key := "test:pacer:" + uuid.NewString()
	delay := 50 * time.Millisecond
	a := ratelimit.NewRedisPacer(client, key, delay)
	b := ratelimit.NewRedisPacer(client, key, delay)

	start := time.Now()
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))

	// b has to wait out a's lease before holding its own
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
}

// unreachable returns a client whose every command fails to connect.
func unreachable(t *testing.T) goredis.UniversalClient {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisPacer_ZeroDelayDisablesPacing(t *testing.T) {
	t.Parallel()

	// No Redis call is made, so an unreachable server is not an error.
	p := ratelimit.NewRedisPacer(unreachable(t), "test:pacer", 0)
	require.NoError(t, p.Wait(context.Background()))
}

func TestRedisPacer_OutageFailsBeforeSleeping(t *testing.T) {
	t.Parallel()

	delay := 200 * time.Millisecond
	p := ratelimit.NewRedisPacer(unreachable(t), "test:pacer", delay)

	start := time.Now()
	err := p.Wait(context.Background())
	require.ErrorIs(t, err, ratelimit.ErrPacerUnavailable)
	assert.Less(t, time.Since(start), delay)

	var reported int
	f := ratelimit.Fallback{
		Primary:   p,
		Secondary: ratelimit.Interval{Delay: delay},
		OnError:   func(error) { reported++ },
	}
	start = time.Now()
	require.NoError(t, f.Wait(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, delay)
	assert.Less(t, elapsed, 2*delay)
	assert.Equal(t, 1, reported)
}
