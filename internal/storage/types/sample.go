package types

import (
	"fmt"
	"time"
)

// EntityID identifies a logical sensor or metric. Entities are not declared;
// they exist once a sample references them.
type EntityID = int64

// Sample represents a single measurement.
// This is the primary data unit flowing through the storage system.
type Sample struct {
	Entity EntityID
	TS     int64 // Unix seconds, UTC
	Value  float64
}

// Key is the identity of a sample. A store holds at most one sample per key.
type Key struct {
	Entity EntityID
	TS     int64
}

// Key returns the sample's identity.
func (s Sample) Key() Key {
	return Key{Entity: s.Entity, TS: s.TS}
}

// Time returns the timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.Unix(s.TS, 0).UTC()
}

// Validate rejects samples no backend can key correctly.
func (s Sample) Validate() error {
	if s.Entity <= 0 {
		return fmt.Errorf("entity %d: must be positive", s.Entity)
	}
	if s.TS < 0 {
		return fmt.Errorf("timestamp %d: must not be negative", s.TS)
	}
	return nil
}

// Dedupe collapses samples sharing a key, keeping the last occurrence, and
// preserves the order of first appearance. Applying the result as one unit is
// equivalent to applying the input one sample at a time.
func Dedupe(samples []Sample) []Sample {
	if len(samples) < 2 {
		return samples
	}

	index := make(map[Key]int, len(samples))
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if i, ok := index[s.Key()]; ok {
			out[i] = s
			continue
		}
		index[s.Key()] = len(out)
		out = append(out, s)
	}
	return out
}
