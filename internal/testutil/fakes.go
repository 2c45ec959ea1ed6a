package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/sampler"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// =============================================================================
// Scripted Sampler
// =============================================================================

// PollFunc produces the outcome of poll number n (starting at 0).
type PollFunc func(ctx context.Context, n int) (sampler.Batch, error)

// ScriptedSampler is a sampler.Sampler whose polls are produced by a PollFunc.
// It records the start time of every poll.
type ScriptedSampler struct {
	mu     sync.Mutex
	fn     PollFunc
	starts []time.Time
}

// NewScriptedSampler creates a ScriptedSampler.
func NewScriptedSampler(fn PollFunc) *ScriptedSampler {
	return &ScriptedSampler{fn: fn}
}

// FailingFirst returns a PollFunc that fails the first n polls with a
// transport read error and then returns one reading per entity, stamped
// with the poll number as timestamp.
func FailingFirst(n int, entities ...types.EntityID) PollFunc {
	return func(_ context.Context, i int) (sampler.Batch, error) {
		if i < n {
			return sampler.Batch{}, errors.NewSampler(errors.ErrTransportRead, "scripted failure %d", i)
		}
		b := sampler.Batch{Timestamp: int64(i)}
		for _, e := range entities {
			b.Readings = append(b.Readings, sampler.Reading{Entity: e, Value: float64(i)})
		}
		return b, nil
	}
}

// Poll implements sampler.Sampler.
func (s *ScriptedSampler) Poll(ctx context.Context) (sampler.Batch, error) {
	s.mu.Lock()
	n := len(s.starts)
	s.starts = append(s.starts, time.Now())
	s.mu.Unlock()

	return s.fn(ctx, n)
}

// Name implements sampler.Sampler.
func (s *ScriptedSampler) Name() string {
	return "scripted"
}

// Starts returns the start time of every poll so far.
func (s *ScriptedSampler) Starts() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.starts...)
}

// Polls returns the number of polls so far.
func (s *ScriptedSampler) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts)
}

// =============================================================================
// Recording Writer
// =============================================================================

// RecordingWriter is a store writer that keeps every accepted batch and can
// be told to fail.
type RecordingWriter struct {
	mu      sync.Mutex
	batches [][]types.Sample
	failOn  map[int]bool
	calls   int
}

// NewRecordingWriter creates a RecordingWriter that fails the calls whose
// zero-based index is listed in failCalls.
func NewRecordingWriter(failCalls ...int) *RecordingWriter {
	w := &RecordingWriter{failOn: make(map[int]bool)}
	for _, c := range failCalls {
		w.failOn[c] = true
	}
	return w
}

// Write implements storage.Writer.
func (w *RecordingWriter) Write(_ context.Context, samples []types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	call := w.calls
	w.calls++
	if w.failOn[call] {
		return errors.NewStorage(errors.ErrStorageWrite, "write", fmt.Errorf("scripted failure %d", call))
	}
	w.batches = append(w.batches, append([]types.Sample(nil), samples...))
	return nil
}

// Batches returns the accepted batches.
func (w *RecordingWriter) Batches() [][]types.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]types.Sample(nil), w.batches...)
}

// Calls returns the number of Write calls, failed or not.
func (w *RecordingWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}
