// Package parquet exports stored samples to Parquet files.
//
// The package provides:
//   - SampleWriter/SampleReader for raw sample rows
//   - Export, which copies a time range of one or more entities from a store
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
