// Package stores persists orchestration history and odds snapshots in SQLite.
//
// The schema is managed with embedded golang-migrate migrations. SQLiteStore
// satisfies engine.HistorySink, and it serves the built-in strategies as their
// repository by answering opening-line lookups from stored snapshots.
package stores
