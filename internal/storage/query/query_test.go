package query

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

func newStore(t *testing.T, samples ...types.Sample) storage.Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Driver = config.DriverBadger
	cfg.Path = config.MemoryPath

	s, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if len(samples) > 0 {
		if err := s.Write(context.Background(), samples); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return s
}

func fixedNow(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func avg(v float64) *float64 { return &v }

func assertPoints(t *testing.T, got, want []types.Point) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d points, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].TS != want[i].TS {
			t.Errorf("point %d ts = %d, want %d", i, got[i].TS, want[i].TS)
		}
		switch {
		case want[i].Avg == nil && got[i].Avg != nil:
			t.Errorf("point %d avg = %v, want absent", i, *got[i].Avg)
		case want[i].Avg != nil && got[i].Avg == nil:
			t.Errorf("point %d absent, want %v", i, *want[i].Avg)
		case want[i].Avg != nil && *got[i].Avg != *want[i].Avg:
			t.Errorf("point %d avg = %v, want %v", i, *got[i].Avg, *want[i].Avg)
		}
	}
}

// =============================================================================
// Fill
// =============================================================================

func TestFill(t *testing.T) {
	tests := []struct {
		name    string
		buckets []types.Bucket
		start   int64
		end     int64
		width   int64
		want    []types.Point
	}{
		{
			name:  "empty store",
			start: 0, end: 120, width: 60,
			want: []types.Point{{TS: 0}, {TS: 60}, {TS: 120}},
		},
		{
			name:    "gap in the middle",
			buckets: []types.Bucket{{Start: 0, Avg: 1}, {Start: 120, Avg: 3}},
			start:   0, end: 120, width: 60,
			want: []types.Point{{TS: 0, Avg: avg(1)}, {TS: 60}, {TS: 120, Avg: avg(3)}},
		},
		{
			name:    "zero average is present",
			buckets: []types.Bucket{{Start: 60, Avg: 0}},
			start:   0, end: 60, width: 60,
			want: []types.Point{{TS: 0}, {TS: 60, Avg: avg(0)}},
		},
		{
			name:    "out of range buckets ignored",
			buckets: []types.Bucket{{Start: -60, Avg: 9}, {Start: 60, Avg: 2}, {Start: 240, Avg: 9}},
			start:   0, end: 120, width: 60,
			want: []types.Point{{TS: 0}, {TS: 60, Avg: avg(2)}, {TS: 120}},
		},
		{
			name:  "single boundary",
			start: 60, end: 60, width: 60,
			want: []types.Point{{TS: 60}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertPoints(t, Fill(tt.buckets, tt.start, tt.end, tt.width), tt.want)
		})
	}
}

// =============================================================================
// Series
// =============================================================================

func TestSeriesEndToEnd(t *testing.T) {
	store := newStore(t,
		types.Sample{Entity: 1, TS: 1000, Value: 20.0},
		types.Sample{Entity: 1, TS: 1060, Value: 22.0},
	)
	svc := New(store, nil)

	got, err := svc.SeriesAt(context.Background(), 1, RangeSpec{Duration: 90, BucketWidth: 60}, 1090)
	if err != nil {
		t.Fatalf("SeriesAt: %v", err)
	}
	if got.BucketSec != 60 {
		t.Errorf("BucketSec = %d", got.BucketSec)
	}
	assertPoints(t, got.Points, []types.Point{
		{TS: 960, Avg: avg(20.0)},
		{TS: 1020, Avg: avg(22.0)},
		{TS: 1080},
		{TS: 1140},
	})
}

func TestSeriesTotality(t *testing.T) {
	store := newStore(t)
	svc := New(store, nil)

	tests := []struct {
		duration, width int64
	}{
		{3600, 60},
		{86400, 1800},
		{2592000, 3600},
		{2592000, 60}, // 30 days at the minimum width
		{366 * 86400, 86400},
	}
	for _, tt := range tests {
		for _, now := range []int64{3600, 3601, 3659, 7199, 1700000123} {
			spec := RangeSpec{Duration: tt.duration, BucketWidth: tt.width}
			got, err := svc.SeriesAt(context.Background(), 1, spec, now)
			if err != nil {
				t.Fatalf("SeriesAt(%+v, %d): %v", spec, now, err)
			}

			start := types.AlignDown(now-tt.duration, tt.width)
			end := types.AlignUp(now, tt.width)
			if want := int((end-start)/tt.width + 1); len(got.Points) != want {
				t.Errorf("%+v now=%d: %d points, want %d", spec, now, len(got.Points), want)
			}
			for i, p := range got.Points {
				if p.TS != start+int64(i)*tt.width {
					t.Errorf("%+v now=%d: point %d at %d", spec, now, i, p.TS)
					break
				}
				if p.Present() {
					t.Errorf("%+v now=%d: empty store produced a value at %d", spec, now, p.TS)
					break
				}
			}
		}
	}
}

func TestSeriesClampsBucket(t *testing.T) {
	svc := New(newStore(t), nil)

	got, err := svc.SeriesAt(context.Background(), 1, RangeSpec{Duration: 600, BucketWidth: 5}, 6000)
	if err != nil {
		t.Fatalf("SeriesAt: %v", err)
	}
	if got.BucketSec != 60 {
		t.Errorf("BucketSec = %d, want clamped to 60", got.BucketSec)
	}
}

func TestSeriesUsesClock(t *testing.T) {
	store := newStore(t, types.Sample{Entity: 2, TS: 7190, Value: 50})
	cfg := DefaultConfig()
	cfg.Now = fixedNow(7200)
	svc := New(store, cfg)

	got, err := svc.Series(context.Background(), 2, RangeSpec{Duration: 3600, BucketWidth: 60})
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	last := got.Points[len(got.Points)-1]
	prev := got.Points[len(got.Points)-2]
	if last.TS != 7200 || last.Present() {
		t.Errorf("last point = %+v, want absent at 7200", last)
	}
	if prev.TS != 7140 || !prev.Present() || *prev.Avg != 50 {
		t.Errorf("previous point = %+v, want 50 at 7140", prev)
	}
}

func TestSeriesRejectsOversizedRange(t *testing.T) {
	svc := New(newStore(t), nil)

	tests := []struct {
		name string
		spec RangeSpec
	}{
		{"huge duration", RangeSpec{Duration: 1 << 62, BucketWidth: 60}},
		{"over max duration", RangeSpec{Duration: 367 * 86400, BucketWidth: 86400}},
		{"too many points", RangeSpec{Duration: 366 * 86400, BucketWidth: 60}},
		{"huge bucket", RangeSpec{Duration: 3600, BucketWidth: 1 << 62}},
		{"negative duration", RangeSpec{Duration: -1, BucketWidth: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SeriesAt(context.Background(), 1, tt.spec, 1700000000)
			if !errors.IsValidation(err) {
				t.Errorf("SeriesAt err = %v, want invalid request", err)
			}
		})
	}

	if _, err := svc.SummaryAt(context.Background(), 1, RangeSpec{Duration: 1 << 62}, 1700000000); !errors.IsValidation(err) {
		t.Errorf("SummaryAt err = %v, want invalid request", err)
	}
}

func TestSeriesPointCapIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPoints = 100
	svc := New(newStore(t), cfg)

	if _, err := svc.SeriesAt(context.Background(), 1, RangeSpec{Duration: 3600, BucketWidth: 60}, 7200); err != nil {
		t.Errorf("62 points rejected: %v", err)
	}
	if _, err := svc.SeriesAt(context.Background(), 1, RangeSpec{Duration: 86400, BucketWidth: 60}, 90000); !errors.IsValidation(err) {
		t.Errorf("1442 points err = %v, want invalid request", err)
	}
}

// =============================================================================
// Range resolution
// =============================================================================

func TestResolveRange(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		duration int64
		bucket   int64
		want     RangeSpec
		wantErr  bool
	}{
		{"1h", "1h", 0, 0, RangeSpec{3600, 60}, false},
		{"1d", "1d", 0, 0, RangeSpec{86400, 1800}, false},
		{"7d", "7d", 0, 0, RangeSpec{604800, 3600}, false},
		{"30d", "30D", 0, 0, RangeSpec{2592000, 3600}, false},
		{"default", "", 0, 0, RangeSpec{3600, 60}, false},
		{"explicit duration", "", 7200, 0, RangeSpec{7200, 60}, false},
		{"explicit bucket", "", 7200, 300, RangeSpec{7200, 300}, false},
		{"tag with bucket", "1d", 0, 600, RangeSpec{86400, 600}, false},
		{"bucket clamped", "", 600, 10, RangeSpec{600, 60}, false},
		{"unknown tag", "2h", 0, 0, RangeSpec{}, true},
		{"negative duration", "", -1, 0, RangeSpec{}, true},
		{"negative bucket", "", 60, -5, RangeSpec{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRange(tt.tag, tt.duration, tt.bucket, 60)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Fatalf("err = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseEntity(t *testing.T) {
	if id, err := ParseEntity(" 2 "); err != nil || id != 2 {
		t.Errorf("ParseEntity = %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "0", "-3", "1.5"} {
		if _, err := ParseEntity(bad); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("ParseEntity(%q) = %v, want ErrInvalidRequest", bad, err)
		}
	}
}

// =============================================================================
// Latest, Summary, Snapshot
// =============================================================================

func TestLatest(t *testing.T) {
	store := newStore(t,
		types.Sample{Entity: 1, TS: 100, Value: 1},
		types.Sample{Entity: 1, TS: 101, Value: 2},
	)
	svc := New(store, nil)

	got, err := svc.Latest(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 2 || got[0] != (Latest{101, 2}) || got[1] != (Latest{100, 1}) {
		t.Errorf("Latest = %+v", got)
	}

	empty, err := svc.Latest(context.Background(), 9, 1)
	if err != nil || len(empty) != 0 {
		t.Errorf("Latest for unknown entity = %+v, %v", empty, err)
	}

	if _, err := svc.Latest(context.Background(), 1, 0); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("n=0: err = %v", err)
	}
}

func TestSummary(t *testing.T) {
	var samples []types.Sample
	for i := int64(1); i <= 100; i++ {
		samples = append(samples, types.Sample{Entity: 1, TS: 1000 + i, Value: float64(i)})
	}
	svc := New(newStore(t, samples...), nil)

	got, err := svc.SummaryAt(context.Background(), 1, RangeSpec{Duration: 3600}, 1100)
	if err != nil {
		t.Fatalf("SummaryAt: %v", err)
	}
	if got.Count != 100 || got.Min != 1 || got.Max != 100 || got.Avg != 50.5 {
		t.Errorf("Summary = %+v", got)
	}
	if got.FirstTs != 1001 || got.LastTs != 1100 {
		t.Errorf("ts range = [%d, %d]", got.FirstTs, got.LastTs)
	}
	if !got.HasPercentiles() || *got.P50 < 49 || *got.P50 > 52 {
		t.Errorf("p50 = %v", got.P50)
	}

	empty, err := svc.SummaryAt(context.Background(), 2, RangeSpec{Duration: 3600}, 1100)
	if err != nil || !empty.IsEmpty() || empty.HasPercentiles() {
		t.Errorf("empty summary = %+v, %v", empty, err)
	}
}

func TestSnapshotJSON(t *testing.T) {
	store := newStore(t, types.Sample{Entity: 1, TS: 100, Value: 21.5})
	cfg := DefaultConfig()
	cfg.Now = fixedNow(105)
	svc := New(store, cfg)

	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"sensor1":{"ts_utc":100,"value":21.5},"sensor2":null,"timestamp":105}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

type failingReader struct {
	storage.Reader
}

func (failingReader) ReadLatest(context.Context, types.EntityID, int) ([]types.Sample, error) {
	return nil, errors.NewStorage(errors.ErrStorageRead, "latest", errors.New("disk I/O error"))
}

func TestReadErrorsPropagate(t *testing.T) {
	svc := New(failingReader{}, nil)

	if _, err := svc.Latest(context.Background(), 1, 1); !errors.Is(err, errors.ErrStorageRead) {
		t.Errorf("Latest err = %v", err)
	}
	if _, err := svc.Snapshot(context.Background()); !errors.Is(err, errors.ErrStorageRead) {
		t.Errorf("Snapshot err = %v", err)
	}
	if svc.Stats().Errors != 2 {
		t.Errorf("Errors = %d, want 2", svc.Stats().Errors)
	}
}

// gatedReader blocks its first ReadLatest until release is closed or the
// read context ends.
type gatedReader struct {
	storage.Reader
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *gatedReader) ReadLatest(ctx context.Context, entity types.EntityID, _ int) ([]types.Sample, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []types.Sample{{Entity: entity, TS: 10, Value: 1}}, nil
}

func TestSnapshotSurvivesOtherCallerCancel(t *testing.T) {
	r := &gatedReader{started: make(chan struct{}), release: make(chan struct{})}
	svc := New(r, nil)

	first, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Snapshot(first, 1)
		firstDone <- err
	}()
	<-r.started

	type result struct {
		snap Snapshot
		err  error
	}
	secondDone := make(chan result, 1)
	go func() {
		snap, err := svc.Snapshot(context.Background(), 1)
		secondDone <- result{snap, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(r.release)
	select {
	case res := <-secondDone:
		if res.err != nil {
			t.Fatalf("second caller err = %v", res.err)
		}
		if res.snap.Latest[1] == nil || res.snap.Latest[1].TS != 10 {
			t.Errorf("second caller snapshot = %+v", res.snap.Latest)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}

// =============================================================================
// Stream
// =============================================================================

func TestStreamEmitsUntilCancelled(t *testing.T) {
	svc := New(newStore(t, types.Sample{Entity: 1, TS: 1, Value: 1}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var emitted atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- svc.Stream(ctx, 5*time.Millisecond, func(s Snapshot) error {
			if s.Latest[1] == nil {
				t.Error("snapshot missing entity 1")
			}
			if emitted.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stream = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	if emitted.Load() < 3 {
		t.Errorf("emitted %d snapshots", emitted.Load())
	}
}

func TestStreamStopsOnEmitError(t *testing.T) {
	svc := New(newStore(t), nil)
	gone := errors.New("client gone")

	err := svc.Stream(context.Background(), time.Millisecond, func(Snapshot) error { return gone })
	if !errors.Is(err, gone) {
		t.Errorf("Stream = %v, want emit error", err)
	}
}
