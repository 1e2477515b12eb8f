// Package redis wraps the go-redis client with connection setup, metrics
// collection, and circuit breaker protection shared by the Redis-backed
// document store and cooldown marker store.
package redis
