// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: one (entity, timestamp, value) fact, keyed by (entity, timestamp)
//   - Bucket: a sparse bucketed average as returned by a store
//   - Point: one slot of a dense, gap-filled series
//   - Summary: distribution statistics over a time range
package types
