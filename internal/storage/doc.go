// Package storage keeps the pipeline run history.
//
// Two drivers exist: an append-only JSON Lines file and a SQLite database
// (modernc.org/sqlite, no cgo). Storage is optional; Open returns a nil
// Store when it is disabled.
package storage
