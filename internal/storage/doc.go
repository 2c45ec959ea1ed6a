// Package storage defines the sample store contract and opens a backend.
//
// Architecture:
//
//	┌─────────────┐  Write   ┌─────────────────────────────┐  Read*   ┌─────────────┐
//	│  Collector  │─────────▶│ Store (sqlite | duckdb |    │◀─────────│ Query engine│
//	│ (one writer)│          │        badger)              │          │ (N readers) │
//	└─────────────┘          └─────────────────────────────┘          └─────────────┘
//
// A store keeps one row per (entity, timestamp); writing an existing key
// replaces its value. A batch is applied as one unit. Readers see either the
// state before a batch or after it, never a partial batch.
//
// Reading and writing are separate capabilities (Reader, Writer) so that a
// process which only serves queries can open a store read-only through
// OpenReader while another process owns the writer.
//
// The sqlite backend is the default. It relies on write-ahead logging for the
// single-writer, many-reader discipline instead of application locks, which is
// what lets the collector and a separately started reader share one file.
package storage
