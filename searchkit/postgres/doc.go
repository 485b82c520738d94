// Package postgres implements a primary backend.Backend on PostgreSQL full
// text search.
//
// Connections go through pgx's database/sql driver and a dbresolver that
// sends reads to the replica and writes to the primary. The schema ships as
// embedded golang-migrate migrations and is applied on Connect when enabled.
package postgres
