// Package cache provides a small generic TTL cache with an in-memory and a
// Redis backend, plus GetOrSet for stampede-free read-through caching.
//
//	statuses := cache.NewRedis[Status](client, cache.WithPrefix("send_status"))
//	st, err := cache.GetOrSet(ctx, statuses, sendID, func(ctx context.Context) (Status, time.Duration, error) {
//	    s, err := load(ctx, sendID)
//	    return s, 5 * time.Second, err
//	})
//
// A zero TTL means the backend default; a negative TTL never expires.
package cache
