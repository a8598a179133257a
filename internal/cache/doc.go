// Package cache memoizes backend responses by request fingerprint.
//
// Cache.GetOrCompute guarantees at most one in-flight computation per
// fingerprint: concurrent callers for the same key wait for the first one and
// all observe its outcome. Successful responses are stored with a
// per-resource TTL; failures are never stored. Mutating requests bypass the
// cache and, on success, invalidate every entry of their resource. A
// per-resource generation counter keeps a read that started before an
// invalidation from storing its now-stale result.
//
// Two storage drivers are provided: MemoryStore (sharded maps, swept
// periodically) and RedisStore (go-redis, expiry handled by Redis).
package cache
