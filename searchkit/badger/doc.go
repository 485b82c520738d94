// Package badger implements backend.CacheStore on an embedded BadgerDB.
//
// It suits single-node deployments that want a cache surviving restarts
// without running Redis. Entries carry Badger's native TTL.
package badger
