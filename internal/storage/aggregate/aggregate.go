// Package aggregate computes running distribution statistics over samples.
//
// Percentiles come from a DDSketch, so they are approximations with a
// bounded relative error rather than exact order statistics.
package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Summarizer maintains running statistics for one entity over one range.
type Summarizer struct {
	mu sync.Mutex

	// Identity
	entity types.EntityID
	from   int64
	to     int64

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// New creates a Summarizer for entity over [from, to]. A positive accuracy
// enables percentiles with that relative accuracy; zero disables them.
func New(entity types.EntityID, from, to int64, accuracy float64) *Summarizer {
	s := &Summarizer{
		entity: entity,
		from:   from,
		to:     to,
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}

	return s
}

// Add adds a value observed at ts.
func (s *Summarizer) Add(value float64, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || ts < s.firstTs {
		s.firstTs = ts
	}
	if s.count == 0 || ts > s.lastTs {
		s.lastTs = ts
	}

	s.count++
	s.sum += value

	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}

	if s.sketch != nil {
		// DDSketch rejects values outside its indexable range.
		_ = s.sketch.Add(value)
	}
}

// AddSample adds a sample; samples of other entities are ignored.
func (s *Summarizer) AddSample(sample types.Sample) {
	if sample.Entity != s.entity {
		return
	}
	s.Add(sample.Value, sample.TS)
}

// Count returns the number of values added.
func (s *Summarizer) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// IsEmpty returns true if no values have been added.
func (s *Summarizer) IsEmpty() bool {
	return s.Count() == 0
}

// Result returns the summary so far.
func (s *Summarizer) Result() types.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := types.Summary{
		Entity: s.entity,
		From:   s.from,
		To:     s.to,
		Count:  s.count,
	}
	if s.count == 0 {
		return result
	}

	result.Avg = s.sum / float64(s.count)
	result.Min = s.min
	result.Max = s.max
	result.FirstTs = s.firstTs
	result.LastTs = s.lastTs

	// Calculate percentiles if enabled
	if s.sketch != nil && !s.sketch.IsEmpty() {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p95, _ := s.sketch.GetValueAtQuantile(0.95)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Merge combines another summarizer of the same entity into this one.
func (s *Summarizer) Merge(other *Summarizer) error {
	if other == nil || other == s {
		return nil
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.count == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || other.firstTs < s.firstTs {
		s.firstTs = other.firstTs
	}
	if s.count == 0 || other.lastTs > s.lastTs {
		s.lastTs = other.lastTs
	}

	s.count += other.count
	s.sum += other.sum

	if other.min < s.min {
		s.min = other.min
	}
	if other.max > s.max {
		s.max = other.max
	}

	// Merge sketches
	if s.sketch != nil && other.sketch != nil {
		return s.sketch.MergeWith(other.sketch)
	}
	return nil
}
