// Package query turns stored samples into the shapes a dashboard consumes.
//
// The Service answers:
//   - Latest: the newest n samples of an entity
//   - Series: a dense, gap-filled average series over a range
//   - Summary: count, min, max, mean and percentiles over a range
//   - Snapshot and Stream: the newest sample of each tracked entity,
//     once or on a fixed interval for a live feed
//
// Series output is total over the requested range: every aligned bucket
// boundary from the aligned start through the aligned end is present,
// carrying either the bucket average or an explicit absent marker (a nil
// Avg). An absent bucket is never reported as zero.
package query
