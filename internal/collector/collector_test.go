package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/sampler"
	"github.com/xtxerr/sensorlog/internal/testutil"
)

func TestTickSuccess(t *testing.T) {
	s := testutil.NewScriptedSampler(testutil.FailingFirst(0, 1, 2))
	w := testutil.NewRecordingWriter()
	c := New(s, w, nil)

	r := c.Tick(context.Background())
	if !r.OK() {
		t.Fatalf("tick failed: %v", r.Err)
	}
	if r.Samples != 2 {
		t.Errorf("Samples = %d, want 2", r.Samples)
	}
	if got := len(w.Batches()); got != 1 {
		t.Fatalf("store received %d batches, want 1", got)
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v after tick, want idle", c.State())
	}

	st := c.Stats()
	if st.Ticks != 1 || st.Successes != 1 || st.SamplesWritten != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestResilience(t *testing.T) {
	// Ticks 0-2 fail in the sampler, tick 3 fails in the store.
	s := testutil.NewScriptedSampler(testutil.FailingFirst(3, 1))
	w := testutil.NewRecordingWriter(0)
	c := New(s, w, nil)

	var results []TickResult
	c.OnTick(func(r TickResult) { results = append(results, r) })

	for i := 0; i < 5; i++ {
		c.Tick(context.Background())
	}

	wantStages := []Stage{StagePoll, StagePoll, StagePoll, StageWrite, ""}
	for i, want := range wantStages {
		if results[i].Stage != want {
			t.Errorf("tick %d stage = %q, want %q", i, results[i].Stage, want)
		}
	}
	if !errors.IsSamplerError(results[0].Err) {
		t.Errorf("tick 0 error = %v, want sampler error", results[0].Err)
	}
	if !errors.Is(results[3].Err, errors.ErrStorageWrite) {
		t.Errorf("tick 3 error = %v, want storage write error", results[3].Err)
	}

	// Failed polls never reach the store.
	if w.Calls() != 2 {
		t.Errorf("store called %d times, want 2", w.Calls())
	}
	batches := w.Batches()
	if len(batches) != 1 || batches[0][0].TS != 4 {
		t.Errorf("batches = %+v, want only tick 4", batches)
	}

	st := c.Stats()
	if st.SamplerFailures != 3 || st.WriteFailures != 1 || st.Successes != 1 {
		t.Errorf("Stats = %+v", st)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestTickRecoversPanic(t *testing.T) {
	s := testutil.NewScriptedSampler(func(context.Context, int) (sampler.Batch, error) {
		panic("driver bug")
	})
	c := New(s, testutil.NewRecordingWriter(), nil)

	r := c.Tick(context.Background())
	if r.OK() || r.Stage != StagePanic {
		t.Fatalf("result = %+v, want panic failure", r)
	}
	if c.Stats().Panics != 1 {
		t.Errorf("Panics = %d", c.Stats().Panics)
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v, want idle", c.State())
	}
}

func TestPanickingPollReleasesContext(t *testing.T) {
	var pollCtx context.Context
	s := testutil.NewScriptedSampler(func(ctx context.Context, _ int) (sampler.Batch, error) {
		pollCtx = ctx
		panic("driver bug")
	})
	c := New(s, testutil.NewRecordingWriter(), &Config{Interval: time.Second, PollTimeout: time.Hour})

	if r := c.Tick(context.Background()); r.Stage != StagePanic {
		t.Fatalf("result = %+v, want panic failure", r)
	}
	if pollCtx == nil {
		t.Fatal("sampler was not polled")
	}
	if !errors.Is(pollCtx.Err(), context.Canceled) {
		t.Errorf("poll context err = %v, want canceled once the tick ends", pollCtx.Err())
	}
}

func TestPollTimeout(t *testing.T) {
	s := testutil.NewScriptedSampler(func(ctx context.Context, _ int) (sampler.Batch, error) {
		<-ctx.Done()
		return sampler.Batch{}, ctx.Err()
	})
	c := New(s, testutil.NewRecordingWriter(), &Config{Interval: time.Second, PollTimeout: 20 * time.Millisecond})

	r := c.Tick(context.Background())
	if r.Stage != StagePoll || !errors.IsSamplerError(r.Err) {
		t.Errorf("result = %+v, want sampler failure", r)
	}
	if r.Duration > time.Second {
		t.Errorf("poll was not bounded: %v", r.Duration)
	}
}

func TestRunCadence(t *testing.T) {
	const interval = 30 * time.Millisecond

	s := testutil.NewScriptedSampler(testutil.FailingFirst(2, 1))
	c := New(s, testutil.NewRecordingWriter(), &Config{Interval: interval, PollTimeout: interval})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return s.Polls() >= 5
	}); err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := testutil.WithTimeout(time.Second, func() error { return <-done }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Failed ticks keep the cadence: starts are spaced by the interval.
	starts := s.Starts()
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval-5*time.Millisecond {
			t.Errorf("gap %d = %v, want >= %v", i, gap, interval)
		}
	}
}

func TestRunSlowTickDoesNotSkip(t *testing.T) {
	const interval = 10 * time.Millisecond

	var mu sync.Mutex
	var inFlight, overlap int
	s := testutil.NewScriptedSampler(func(_ context.Context, i int) (sampler.Batch, error) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap++
		}
		mu.Unlock()

		time.Sleep(3 * interval)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return sampler.Batch{Timestamp: int64(i), Readings: []sampler.Reading{{Entity: 1, Value: 1}}}, nil
	})
	w := testutil.NewRecordingWriter()
	c := New(s, w, &Config{Interval: interval, PollTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return len(w.Batches()) >= 3
	}); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done

	if overlap != 0 {
		t.Errorf("ticks overlapped %d times", overlap)
	}
	for i, b := range w.Batches() {
		if b[0].TS != int64(i) {
			t.Errorf("batch %d has ts %d; a tick was skipped", i, b[0].TS)
		}
	}
}

func TestStartStop(t *testing.T) {
	s := testutil.NewScriptedSampler(testutil.FailingFirst(0, 1))
	c := New(s, testutil.NewRecordingWriter(), &Config{Interval: 10 * time.Millisecond})

	c.Start()
	if err := testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return c.Stats().Ticks >= 2
	}); err != nil {
		t.Fatal(err)
	}
	c.Stop()

	after := c.Stats().Ticks
	time.Sleep(30 * time.Millisecond)
	if c.Stats().Ticks != after {
		t.Error("collector kept ticking after Stop")
	}
}

func TestRunOnce(t *testing.T) {
	c := New(testutil.NewScriptedSampler(testutil.FailingFirst(1, 1)), testutil.NewRecordingWriter(), nil)

	if err := c.RunOnce(context.Background()); !errors.IsSamplerError(err) {
		t.Errorf("first RunOnce = %v, want sampler error", err)
	}
	if err := c.RunOnce(context.Background()); err != nil {
		t.Errorf("second RunOnce = %v", err)
	}
}
