package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/aggregate"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

var log = logging.Component("query")

// snapshotReadTimeout bounds a shared snapshot read.
const snapshotReadTimeout = 10 * time.Second

// =============================================================================
// Configuration
// =============================================================================

// Config holds query configuration.
type Config struct {
	// MinBucketSec is the smallest bucket width a series may use.
	MinBucketSec int64

	// StreamInterval is the live feed emission period.
	StreamInterval time.Duration

	// Entities are tracked by Snapshot and Stream when a request names none.
	Entities []types.EntityID

	// PercentileAccuracy is the DDSketch relative accuracy for summaries.
	PercentileAccuracy float64

	// LatestLimit caps n on latest queries.
	LatestLimit int

	// MaxDuration caps the range of a series or summary, in seconds.
	MaxDuration int64

	// MaxPoints caps the number of points in a series.
	MaxPoints int64

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// DefaultConfig returns default query configuration.
func DefaultConfig() *Config {
	return &Config{
		MinBucketSec:       config.DefaultMinBucketSec,
		StreamInterval:     config.DefaultStreamInterval,
		Entities:           []types.EntityID{config.EntityTemperature, config.EntityHumidity},
		PercentileAccuracy: config.DefaultPercentileAccuracy,
		LatestLimit:        config.DefaultLatestLimit,
		MaxDuration:        int64(config.DefaultMaxDuration / time.Second),
		MaxPoints:          config.DefaultMaxPoints,
	}
}

// =============================================================================
// Service
// =============================================================================

// Service answers queries against a store.
//
// Service is safe for concurrent use.
type Service struct {
	reader storage.Reader
	cfg    Config
	now    func() time.Time

	snapshots singleflight.Group

	// Statistics
	queriesExecuted atomic.Int64
	rowsReturned    atomic.Int64
	failures        atomic.Int64
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// New creates a query service over reader. A nil cfg uses DefaultConfig.
func New(reader storage.Reader, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{reader: reader, cfg: *cfg, now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.MinBucketSec <= 0 {
		s.cfg.MinBucketSec = config.DefaultMinBucketSec
	}
	if s.cfg.StreamInterval <= 0 {
		s.cfg.StreamInterval = config.DefaultStreamInterval
	}
	if len(s.cfg.Entities) == 0 {
		s.cfg.Entities = DefaultConfig().Entities
	}
	if s.cfg.LatestLimit <= 0 {
		s.cfg.LatestLimit = config.DefaultLatestLimit
	}
	if s.cfg.MaxDuration <= 0 {
		s.cfg.MaxDuration = int64(config.DefaultMaxDuration / time.Second)
	}
	if s.cfg.MaxPoints <= 0 {
		s.cfg.MaxPoints = config.DefaultMaxPoints
	}
	return s
}

// MinBucketSec returns the configured minimum bucket width.
func (s *Service) MinBucketSec() int64 {
	return s.cfg.MinBucketSec
}

// Entities returns the entities tracked by default.
func (s *Service) Entities() []types.EntityID {
	return append([]types.EntityID(nil), s.cfg.Entities...)
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queriesExecuted.Load(),
		RowsReturned:    s.rowsReturned.Load(),
		Errors:          s.failures.Load(),
	}
}

func (s *Service) record(rows int, err error) {
	s.queriesExecuted.Add(1)
	if err != nil {
		s.failures.Add(1)
		return
	}
	s.rowsReturned.Add(int64(rows))
}

// =============================================================================
// Latest
// =============================================================================

// Latest is one sample as served by the latest endpoints.
type Latest struct {
	TS    int64   `json:"ts_utc"`
	Value float64 `json:"value"`
}

// Latest returns up to n newest samples of entity, newest first.
func (s *Service) Latest(ctx context.Context, entity types.EntityID, n int) ([]Latest, error) {
	if n < 1 || n > s.cfg.LatestLimit {
		return nil, errors.NewInvalidRequest("n", fmt.Sprintf("must be between 1 and %d", s.cfg.LatestLimit))
	}

	samples, err := s.reader.ReadLatest(ctx, entity, n)
	s.record(len(samples), err)
	if err != nil {
		return nil, err
	}

	out := make([]Latest, len(samples))
	for i, sample := range samples {
		out[i] = Latest{TS: sample.TS, Value: sample.Value}
	}
	return out, nil
}

// =============================================================================
// Series
// =============================================================================

// Series returns the dense average series of entity for spec, ending now.
func (s *Service) Series(ctx context.Context, entity types.EntityID, spec RangeSpec) (Series, error) {
	return s.SeriesAt(ctx, entity, spec, s.now().Unix())
}

// SeriesAt is Series evaluated at the given instant.
func (s *Service) SeriesAt(ctx context.Context, entity types.EntityID, spec RangeSpec, now int64) (Series, error) {
	width := max(spec.BucketWidth, s.cfg.MinBucketSec)
	if err := s.checkRange(spec.Duration, width); err != nil {
		return Series{}, err
	}

	start := now - spec.Duration
	alignedStart := types.AlignDown(start, width)
	alignedEnd := types.AlignUp(now, width)

	buckets, err := s.reader.ReadBucketedAverage(ctx, entity, start, width, now)
	s.record(len(buckets), err)
	if err != nil {
		return Series{}, err
	}

	return Series{
		BucketSec: width,
		Points:    Fill(buckets, alignedStart, alignedEnd, width),
	}, nil
}

// checkRange bounds a request before anything is read or allocated. A
// series over duration d at width w has at most d/w+2 points.
func (s *Service) checkRange(duration, width int64) error {
	switch {
	case duration < 0:
		return errors.NewInvalidRequest("duration", "must not be negative")
	case duration > s.cfg.MaxDuration:
		return errors.NewInvalidRequest("duration",
			fmt.Sprintf("must be at most %d seconds", s.cfg.MaxDuration))
	case width > s.cfg.MaxDuration:
		return errors.NewInvalidRequest("bucket",
			fmt.Sprintf("must be at most %d seconds", s.cfg.MaxDuration))
	case width > 0 && duration/width+2 > s.cfg.MaxPoints:
		return errors.NewInvalidRequest("bucket",
			fmt.Sprintf("too narrow: series would exceed %d points", s.cfg.MaxPoints))
	}
	return nil
}

// =============================================================================
// Summary
// =============================================================================

// Summary returns distribution statistics of entity over the last
// spec.Duration seconds. The bucket width is ignored.
func (s *Service) Summary(ctx context.Context, entity types.EntityID, spec RangeSpec) (types.Summary, error) {
	return s.SummaryAt(ctx, entity, spec, s.now().Unix())
}

// SummaryAt is Summary evaluated at the given instant.
func (s *Service) SummaryAt(ctx context.Context, entity types.EntityID, spec RangeSpec, now int64) (types.Summary, error) {
	if err := s.checkRange(spec.Duration, 0); err != nil {
		return types.Summary{}, err
	}
	from := now - spec.Duration

	samples, err := s.reader.ReadRange(ctx, entity, from, now)
	s.record(len(samples), err)
	if err != nil {
		return types.Summary{}, err
	}

	agg := aggregate.New(entity, from, now, s.cfg.PercentileAccuracy)
	for _, sample := range samples {
		agg.AddSample(sample)
	}
	return agg.Result(), nil
}

// =============================================================================
// Snapshot and Stream
// =============================================================================

// Snapshot holds the newest sample of each tracked entity. A nil entry
// means the entity has no samples.
type Snapshot struct {
	Entities  []types.EntityID
	Latest    map[types.EntityID]*Latest
	Timestamp int64 // emission time, Unix seconds
}

// MarshalJSON encodes the snapshot as
// {"sensor1": {...}|null, "sensor2": ..., "timestamp": ...}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Entities)+1)
	for _, e := range s.Entities {
		out["sensor"+strconv.FormatInt(e, 10)] = s.Latest[e]
	}
	out["timestamp"] = s.Timestamp
	return json.Marshal(out)
}

// Snapshot returns the newest sample of each entity, or of the tracked
// entities when none are given. Concurrent calls for the same entities
// share one store read.
func (s *Service) Snapshot(ctx context.Context, entities ...types.EntityID) (Snapshot, error) {
	if len(entities) == 0 {
		entities = s.cfg.Entities
	}

	key := snapshotKey(entities)
	ch := s.snapshots.DoChan(key, func() (any, error) {
		// The read is shared by every waiting caller, so no single caller's
		// cancellation may end it.
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotReadTimeout)
		defer cancel()
		return s.readSnapshot(readCtx, entities)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return Snapshot{}, res.Err
	}
	if res.Shared {
		log.Debug("snapshot shared", "entities", key)
	}

	return Snapshot{
		Entities:  entities,
		Latest:    res.Val.(map[types.EntityID]*Latest),
		Timestamp: s.now().Unix(),
	}, nil
}

func (s *Service) readSnapshot(ctx context.Context, entities []types.EntityID) (map[types.EntityID]*Latest, error) {
	latest := make(map[types.EntityID]*Latest, len(entities))
	for _, e := range entities {
		samples, err := s.reader.ReadLatest(ctx, e, 1)
		s.record(len(samples), err)
		if err != nil {
			return nil, err
		}
		if len(samples) > 0 {
			latest[e] = &Latest{TS: samples[0].TS, Value: samples[0].Value}
		} else {
			latest[e] = nil
		}
	}
	return latest, nil
}

// Stream calls emit with a fresh snapshot immediately and then once per
// interval until ctx is done or emit fails. A zero interval uses the
// configured stream interval. Snapshot read errors are logged and that
// emission is skipped. Stream returns nil when ctx ends, otherwise the
// emit error.
func (s *Service) Stream(ctx context.Context, interval time.Duration, emit func(Snapshot) error, entities ...types.EntityID) error {
	if interval <= 0 {
		interval = s.cfg.StreamInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := s.Snapshot(ctx, entities...)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			log.Warn("stream snapshot failed", "error", err)
		default:
			if err := emit(snap); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func snapshotKey(entities []types.EntityID) string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = strconv.FormatInt(e, 10)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
