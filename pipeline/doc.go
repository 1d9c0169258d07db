// Package pipeline turns raw container output and declared output files into
// durable, ordered records.
//
// Output chunks from the provider's log stream are re-ordered across streams
// within a short hold-back window, numbered with per-execution sequence
// numbers that never repeat (the counter is seeded from the Store), persisted
// in batches and fanned out to live subscribers. Persisting always happens
// before publishing, so a reader that subscribes and then replays the Store
// sees every entry exactly once after de-duplicating by sequence number.
//
// Artifacts are read from a provider tar stream, filtered by doublestar
// patterns, checksummed with SHA-256 over the captured bytes and handed to an
// ArtifactStorage backend before their record is written to the Store.
package pipeline
