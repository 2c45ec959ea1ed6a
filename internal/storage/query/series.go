package query

import (
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Series is a dense average series.
type Series struct {
	BucketSec int64         `json:"bucket_sec"`
	Points    []types.Point `json:"points"`
}

// Fill expands sparse buckets into one point per boundary from
// alignedStart through alignedEnd inclusive, step width. Boundaries with no
// bucket get a nil average. buckets must be ascending; buckets outside the
// range are ignored.
func Fill(buckets []types.Bucket, alignedStart, alignedEnd, width int64) []types.Point {
	if width <= 0 || alignedEnd < alignedStart {
		return []types.Point{}
	}

	points := make([]types.Point, 0, (alignedEnd-alignedStart)/width+1)
	i := 0
	for ts := alignedStart; ts <= alignedEnd; ts += width {
		for i < len(buckets) && buckets[i].Start < ts {
			i++
		}

		p := types.Point{TS: ts}
		if i < len(buckets) && buckets[i].Start == ts {
			avg := buckets[i].Avg
			p.Avg = &avg
			i++
		}
		points = append(points, p)
	}
	return points
}
