// Package redis implements backend.CacheStore on top of go-redis.
//
// Result sets are stored as JSON strings under backend.Fingerprint keys with a
// native Redis TTL. Invalidate walks the keyspace with SCAN, so it is safe to
// run against a busy server. Standalone, sentinel and cluster deployments are
// all served through redis.UniversalClient.
package redis
