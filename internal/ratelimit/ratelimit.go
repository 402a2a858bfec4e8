// Package ratelimit paces successive batches of a send so the email
// provider sees a bounded request rate.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrPacerUnavailable = errors.New("ratelimit: pacer unavailable")

// Limiter blocks until the next batch may start.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Interval waits a fixed delay in-process.
type Interval struct {
	Delay time.Duration
}

// Wait sleeps for Delay or until ctx is done.
func (i Interval) Wait(ctx context.Context) error {
	return sleep(ctx, i.Delay)
}

// RedisPacer spaces batches across processes. Each Wait takes a lease key
// that expires after Delay and then sleeps out the lease; while another loop
// holds it the caller waits for the remaining lease and tries again.
type RedisPacer struct {
	client redis.UniversalClient
	key    string
	delay  time.Duration
}

// NewRedisPacer paces every loop sharing key. A non-positive delay disables
// pacing.
func NewRedisPacer(client redis.UniversalClient, key string, delay time.Duration) *RedisPacer {
	return &RedisPacer{client: client, key: key, delay: delay}
}

// Wait returns once this caller has held the shared lease for Delay. Redis
// errors are reported before any local sleep, so a fallback limiter does
// not add its own delay on top.
func (p *RedisPacer) Wait(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}

	for {
		ok, err := p.client.SetNX(ctx, p.key, 1, p.delay).Result()
		if err != nil {
			return errors.Join(ErrPacerUnavailable, err)
		}
		if ok {
			return sleep(ctx, p.delay)
		}

		remaining, err := p.client.PTTL(ctx, p.key).Result()
		if err != nil {
			return errors.Join(ErrPacerUnavailable, err)
		}
		if remaining <= 0 {
			remaining = 10 * time.Millisecond
		}
		if err := sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// Fallback tries primary and, if it reports ErrPacerUnavailable, waits
// with secondary instead so a Redis outage never stalls a send.
type Fallback struct {
	Primary   Limiter
	Secondary Limiter
	OnError   func(error)
}

// Wait waits with Primary, or with Secondary when Primary is unavailable.
func (f Fallback) Wait(ctx context.Context) error {
	err := f.Primary.Wait(ctx)
	if err == nil || !errors.Is(err, ErrPacerUnavailable) {
		return err
	}
	if f.OnError != nil {
		f.OnError(err)
	}
	return f.Secondary.Wait(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
