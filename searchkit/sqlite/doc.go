// Package sqlite implements a primary backend.Backend on SQLite FTS5 using
// the pure Go modernc.org/sqlite driver.
//
// Documents live in a plain table; an external-content FTS5 index is kept in
// sync by triggers. Queries match any term and are ranked by bm25.
package sqlite
