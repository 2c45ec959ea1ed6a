package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// RangeSpec is a resolved series or summary request.
type RangeSpec struct {
	Duration    int64 // seconds back from now
	BucketWidth int64 // seconds
}

// DefaultRangeTag is used when a request names neither a tag nor a duration.
const DefaultRangeTag = "1h"

var rangeTags = map[string]RangeSpec{
	"1h":  {Duration: 3600, BucketWidth: 60},
	"1d":  {Duration: 86400, BucketWidth: 1800},
	"7d":  {Duration: 604800, BucketWidth: 3600},
	"30d": {Duration: 2592000, BucketWidth: 3600},
}

// RangeTags returns the accepted range tags, shortest first.
func RangeTags() []string {
	tags := make([]string, 0, len(rangeTags))
	for tag := range rangeTags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		return rangeTags[tags[i]].Duration < rangeTags[tags[j]].Duration
	})
	return tags
}

// ResolveRange turns request parameters into a RangeSpec.
//
// A tag selects a preset duration and bucket width; otherwise duration is
// required. A positive bucket overrides the width. The width is clamped up
// to minBucket. Zero values mean "not given".
func ResolveRange(tag string, duration, bucket, minBucket int64) (RangeSpec, error) {
	if duration < 0 {
		return RangeSpec{}, errors.NewInvalidRequest("duration", "must be positive")
	}
	if bucket < 0 {
		return RangeSpec{}, errors.NewInvalidRequest("bucket", "must be positive")
	}

	var spec RangeSpec
	switch {
	case tag != "":
		preset, ok := rangeTags[strings.ToLower(tag)]
		if !ok {
			return RangeSpec{}, errors.NewInvalidRequest("range",
				"must be one of "+strings.Join(RangeTags(), ", "))
		}
		spec = preset
	case duration > 0:
		spec = RangeSpec{Duration: duration, BucketWidth: minBucket}
	default:
		spec = rangeTags[DefaultRangeTag]
	}

	if bucket > 0 {
		spec.BucketWidth = bucket
	}
	spec.BucketWidth = max(spec.BucketWidth, minBucket, 1)
	return spec, nil
}

// ParseEntity parses a sensor id request parameter.
func ParseEntity(s string) (types.EntityID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.NewInvalidRequest("sensor_id", "not an integer")
	}
	if id <= 0 {
		return 0, errors.NewInvalidRequest("sensor_id", "must be positive")
	}
	return id, nil
}
