package types

// Bucket is the average of all samples of one entity whose timestamp falls in
// [Start, Start+width). Stores return only buckets with at least one sample.
type Bucket struct {
	Start int64
	Avg   float64
	Count int64
}

// Point is one boundary of a dense series. Avg is nil when the bucket has no
// samples, which is distinct from an average of exactly zero.
type Point struct {
	TS  int64    `json:"ts"`
	Avg *float64 `json:"avg"`
}

// Present reports whether the bucket had any samples.
func (p Point) Present() bool {
	return p.Avg != nil
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// AlignDown returns the largest multiple of width that is <= ts.
func AlignDown(ts, width int64) int64 {
	return FloorDiv(ts, width) * width
}

// AlignUp returns the smallest multiple of width that is >= ts.
func AlignUp(ts, width int64) int64 {
	down := AlignDown(ts, width)
	if down == ts {
		return ts
	}
	return down + width
}
