// Package storagetest is a conformance suite run by every storage backend.
package storagetest

import (
	"context"
	"testing"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/types"
	"github.com/xtxerr/sensorlog/internal/testutil"
)

// OpenFunc returns a fresh, empty store. The suite closes it.
type OpenFunc func(t *testing.T) storage.Store

// Run exercises the store contract against stores created by open.
func Run(t *testing.T, open OpenFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"UpsertIsIdempotent", testUpsertIsIdempotent},
		{"UpsertReplacesValue", testUpsertReplacesValue},
		{"BatchLastWins", testBatchLastWins},
		{"LatestOrdering", testLatestOrdering},
		{"LatestEmptyEntity", testLatestEmptyEntity},
		{"LatestNonPositiveN", testLatestNonPositiveN},
		{"BucketAverages", testBucketAverages},
		{"BucketZeroIsPresent", testBucketZeroIsPresent},
		{"BucketBounds", testBucketBounds},
		{"BucketEntityIsolation", testBucketEntityIsolation},
		{"OutOfOrderWrites", testOutOfOrderWrites},
		{"ReadRange", testReadRange},
		{"InvalidSampleRejected", testInvalidSampleRejected},
		{"ConcurrentReadDuringWrite", testConcurrentReadDuringWrite},
		{"ClosedStore", testClosedStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func write(t *testing.T, s storage.Store, samples ...types.Sample) {
	t.Helper()
	if err := s.Write(context.Background(), samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func sample(entity, ts int64, value float64) types.Sample {
	return types.Sample{Entity: entity, TS: ts, Value: value}
}

func testUpsertIsIdempotent(t *testing.T, s storage.Store) {
	batch := []types.Sample{sample(1, 100, 21.5), sample(2, 100, 40)}
	write(t, s, batch...)
	write(t, s, batch...)

	got, err := s.ReadLatest(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if got[0] != batch[0] {
		t.Errorf("got %+v, want %+v", got[0], batch[0])
	}
}

func testUpsertReplacesValue(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 100, 20))
	write(t, s, sample(1, 100, 25))

	got, err := s.ReadLatest(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 1 || got[0].Value != 25 {
		t.Errorf("got %+v, want single sample with value 25", got)
	}
}

func testBatchLastWins(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 100, 1), sample(1, 100, 2), sample(1, 100, 3))

	got, err := s.ReadLatest(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 1 || got[0].Value != 3 {
		t.Errorf("got %+v, want single sample with value 3", got)
	}
}

func testLatestOrdering(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 100, 20.0), sample(1, 101, 20.5), sample(1, 102, 21.0))

	got, err := s.ReadLatest(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	want := []types.Sample{sample(1, 102, 21.0), sample(1, 101, 20.5)}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	all, err := s.ReadLatest(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("n larger than stored: got %d samples, want 3", len(all))
	}
}

func testLatestEmptyEntity(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 100, 20))

	got, err := s.ReadLatest(context.Background(), 99, 10)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d samples for unknown entity", len(got))
	}
}

func testLatestNonPositiveN(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 100, 20))

	got, err := s.ReadLatest(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("n=0 returned %d samples", len(got))
	}
}

func testBucketAverages(t *testing.T, s storage.Store) {
	write(t, s,
		sample(1, 1000, 20),
		sample(1, 1010, 22),
		sample(1, 1030, 24),
		sample(1, 1080, 30),
	)

	got, err := s.ReadBucketedAverage(context.Background(), 1, 1000, 60, 1090)
	if err != nil {
		t.Fatalf("ReadBucketedAverage: %v", err)
	}

	// Range aligns down to 960; 1000 and 1010 fall in [960, 1020).
	want := []types.Bucket{
		{Start: 960, Avg: 21, Count: 2},
		{Start: 1020, Avg: 24, Count: 1},
		{Start: 1080, Avg: 30, Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func testBucketZeroIsPresent(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 120, -5), sample(1, 130, 5))

	got, err := s.ReadBucketedAverage(context.Background(), 1, 0, 60, 300)
	if err != nil {
		t.Fatalf("ReadBucketedAverage: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d buckets, want 1", len(got))
	}
	if got[0].Start != 120 || got[0].Avg != 0 || got[0].Count != 2 {
		t.Errorf("got %+v, want zero-average bucket at 120", got[0])
	}
}

func testBucketBounds(t *testing.T, s storage.Store) {
	write(t, s,
		sample(1, 900, 1),  // before aligned start
		sample(1, 960, 2),  // at aligned start
		sample(1, 1090, 3), // at now
		sample(1, 1091, 4), // after now
	)

	got, err := s.ReadBucketedAverage(context.Background(), 1, 1000, 60, 1090)
	if err != nil {
		t.Fatalf("ReadBucketedAverage: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v, want buckets 960 and 1080", got)
	}
	if got[0].Start != 960 || got[0].Avg != 2 {
		t.Errorf("first bucket %+v", got[0])
	}
	if got[1].Start != 1080 || got[1].Avg != 3 {
		t.Errorf("last bucket %+v", got[1])
	}

	none, err := s.ReadBucketedAverage(context.Background(), 1, 2000, 60, 1090)
	if err != nil {
		t.Fatalf("ReadBucketedAverage: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("start after now returned %+v", none)
	}
}

func testBucketEntityIsolation(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 100, 10), sample(2, 100, 90))

	got, err := s.ReadBucketedAverage(context.Background(), 2, 0, 60, 200)
	if err != nil {
		t.Fatalf("ReadBucketedAverage: %v", err)
	}
	if len(got) != 1 || got[0].Avg != 90 {
		t.Errorf("got %+v, want only entity 2", got)
	}
}

func testOutOfOrderWrites(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 300, 3))
	write(t, s, sample(1, 100, 1))
	write(t, s, sample(1, 200, 2))

	got, err := s.ReadLatest(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	for i, ts := range []int64{300, 200, 100} {
		if got[i].TS != ts {
			t.Errorf("got[%d].TS = %d, want %d", i, got[i].TS, ts)
		}
	}
}

func testReadRange(t *testing.T, s storage.Store) {
	write(t, s, sample(1, 10, 1), sample(1, 20, 2), sample(1, 30, 3), sample(2, 20, 9))

	got, err := s.ReadRange(context.Background(), 1, 10, 20)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	want := []types.Sample{sample(1, 10, 1), sample(1, 20, 2)}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	empty, err := s.ReadRange(context.Background(), 1, 30, 10)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("inverted range returned %+v", empty)
	}
}

func testInvalidSampleRejected(t *testing.T, s storage.Store) {
	err := s.Write(context.Background(), []types.Sample{sample(1, 100, 1), sample(0, 100, 1)})
	if !errors.Is(err, errors.ErrStorageWrite) {
		t.Fatalf("got %v, want ErrStorageWrite", err)
	}

	got, err := s.ReadLatest(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("rejected batch was partially applied: %+v", got)
	}
}

func testConcurrentReadDuringWrite(t *testing.T, s storage.Store) {
	const batches = 50

	ctx := context.Background()
	gt := testutil.NewGoroutineTest(t)

	gt.Go(func() error {
		for i := int64(0); i < batches; i++ {
			if err := s.Write(ctx, []types.Sample{sample(1, i, float64(i)), sample(2, i, float64(i))}); err != nil {
				return err
			}
		}
		return nil
	})
	gt.Go(func() error {
		for i := 0; i < batches; i++ {
			latest, err := s.ReadLatest(ctx, 1, 1)
			if err != nil {
				return err
			}
			if len(latest) == 1 {
				// Batches are atomic: entity 2 must be visible at the same ts.
				peer, err := s.ReadRange(ctx, 2, latest[0].TS, latest[0].TS)
				if err != nil {
					return err
				}
				if len(peer) != 1 {
					return errors.New("observed half-applied batch")
				}
			}
		}
		return nil
	})
	gt.Wait()

	got, err := s.ReadLatest(ctx, 1, batches+1)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != batches {
		t.Errorf("got %d samples, want %d", len(got), batches)
	}
}

func testClosedStore(t *testing.T, s storage.Store) {
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	err := s.Write(context.Background(), []types.Sample{sample(1, 1, 1)})
	if !errors.Is(err, errors.ErrStoreClosed) || !errors.Is(err, errors.ErrStorageWrite) {
		t.Errorf("Write after Close = %v", err)
	}
	_, err = s.ReadLatest(context.Background(), 1, 1)
	if !errors.Is(err, errors.ErrStoreClosed) || !errors.Is(err, errors.ErrStorageRead) {
		t.Errorf("ReadLatest after Close = %v", err)
	}
}
