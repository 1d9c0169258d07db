// Package store implements durable storage for agentbox using GORM.
//
// A Store satisfies pipeline.Store (log entries and artifact records) and
// execution.Recorder (execution snapshots) over SQLite, through the pure Go
// glebarez driver, or PostgreSQL. All GORM usage is confined to this package;
// the pipeline and execution types stay ORM-free.
//
// Log entries are unique per (execution_id, sequence_number), so a replay
// after a restart can never interleave two entries with the same number.
package store
