package types

// Summary holds distribution statistics for one entity over a time range.
// Percentiles are approximations with the configured relative accuracy.
type Summary struct {
	Entity EntityID `json:"sensor_id"`
	From   int64    `json:"from"`
	To     int64    `json:"to"`

	// Basic statistics
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`

	// Percentiles (nil if no samples)
	P50 *float64 `json:"p50"`
	P90 *float64 `json:"p90"`
	P95 *float64 `json:"p95"`
	P99 *float64 `json:"p99"`

	// Timestamps of actual samples
	FirstTs int64 `json:"first_ts"`
	LastTs  int64 `json:"last_ts"`
}

// IsEmpty returns true if no samples were summarized.
func (s *Summary) IsEmpty() bool {
	return s.Count == 0
}

// SetPercentiles sets all percentile values.
func (s *Summary) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}

// HasPercentiles returns true if percentile values are set.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}
