// Package redis opens a go-redis client from environment configuration,
// retrying the initial ping, and exposes healthcheck and shutdown hooks.
//
// Redis is optional for the delivery engine: when REDIS_URL is empty the
// caller falls back to in-process pacing and caching.
package redis
