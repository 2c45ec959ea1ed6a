// Package collector drives a sampler on a fixed cadence and writes each
// successful batch to the store.
//
// Every tick walks the state machine
//
//	Idle -> Polling -> Writing -> Idle
//	              \-> Failed -/
//
// A failed poll or write is logged and the tick is skipped; the loop itself
// never stops on an error. The interval is measured between tick starts, so
// a slow tick delays the next one but never causes a skip.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/sampler"
	"github.com/xtxerr/sensorlog/internal/storage"
)

var log = logging.Component("collector")

// =============================================================================
// Types
// =============================================================================

// State is the collector's position in its tick state machine.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateWriting
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateWriting:
		return "writing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stage names the step a tick failed in.
type Stage string

const (
	StagePoll  Stage = "poll"
	StageWrite Stage = "write"
	StagePanic Stage = "panic"
)

// TickResult describes one completed tick.
type TickResult struct {
	Start    time.Time
	Duration time.Duration
	Samples  int   // samples written, 0 on failure
	Err      error // nil on success
	Stage    Stage // set when Err is not nil
}

// OK reports whether the tick wrote its batch.
func (r TickResult) OK() bool {
	return r.Err == nil
}

// Stats is a snapshot of collector counters.
type Stats struct {
	Ticks           int64
	Successes       int64
	SamplerFailures int64
	WriteFailures   int64
	Panics          int64
	SamplesWritten  int64
	LastError       string
	LastSuccess     time.Time
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds collector configuration.
type Config struct {
	// Interval is the time between tick starts.
	Interval time.Duration

	// PollTimeout bounds a single sampler poll.
	PollTimeout time.Duration

	// DrainTimeout is how long Stop waits for an in-flight tick.
	DrainTimeout time.Duration
}

// DefaultConfig returns default collector configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:     config.DefaultCollectInterval,
		PollTimeout:  config.DefaultPollTimeout,
		DrainTimeout: config.DefaultDrainTimeout,
	}
}

// =============================================================================
// Collector
// =============================================================================

// Collector is the single writer of a store.
//
// Collector is safe for concurrent use.
type Collector struct {
	sampler sampler.Sampler
	store   storage.Writer
	cfg     Config

	state atomic.Int32

	ticks           atomic.Int64
	successes       atomic.Int64
	samplerFailures atomic.Int64
	writeFailures   atomic.Int64
	panics          atomic.Int64
	samplesWritten  atomic.Int64

	mu          sync.Mutex
	lastErr     string
	lastSuccess time.Time
	onTick      func(TickResult)

	// Lifecycle for Start/Stop
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Collector. A nil cfg uses DefaultConfig.
func New(s sampler.Sampler, w storage.Writer, cfg *Config) *Collector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Collector{sampler: s, store: w, cfg: *cfg}
	if c.cfg.Interval <= 0 {
		c.cfg.Interval = config.DefaultCollectInterval
	}
	if c.cfg.PollTimeout <= 0 {
		c.cfg.PollTimeout = config.DefaultPollTimeout
	}
	if c.cfg.DrainTimeout <= 0 {
		c.cfg.DrainTimeout = config.DefaultDrainTimeout
	}
	return c
}

// OnTick registers fn to be called after every tick. It must be set before
// Run and must not block.
func (c *Collector) OnTick(fn func(TickResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

// State returns the current state.
func (c *Collector) State() State {
	return State(c.state.Load())
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	lastErr, lastSuccess := c.lastErr, c.lastSuccess
	c.mu.Unlock()

	return Stats{
		Ticks:           c.ticks.Load(),
		Successes:       c.successes.Load(),
		SamplerFailures: c.samplerFailures.Load(),
		WriteFailures:   c.writeFailures.Load(),
		Panics:          c.panics.Load(),
		SamplesWritten:  c.samplesWritten.Load(),
		LastError:       lastErr,
		LastSuccess:     lastSuccess,
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run ticks until ctx is cancelled. The first tick starts immediately.
// Cancellation interrupts the sleep between ticks; a tick already writing
// completes first. Run returns nil once stopped.
func (c *Collector) Run(ctx context.Context) error {
	log.Info("collector started",
		"sampler", c.sampler.Name(),
		"interval", c.cfg.Interval,
		"poll_timeout", c.cfg.PollTimeout)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		start := time.Now()
		c.Tick(ctx)

		wait := c.cfg.Interval - time.Since(start)
		if wait < 0 {
			log.Debug("tick overran interval", "overrun", -wait)
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			log.Info("collector stopped", "ticks", c.ticks.Load())
			return nil
		case <-timer.C:
		}
	}
}

// Start runs the collector in a background goroutine.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.Run(ctx)
	}()
}

// Stop stops a collector started with Start, waiting up to the drain
// timeout for an in-flight tick.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()

	select {
	case <-c.done:
	case <-time.After(c.cfg.DrainTimeout):
		log.Warn("collector drain timeout", "state", c.State())
	}
}

// RunOnce performs a single tick and returns its error.
func (c *Collector) RunOnce(ctx context.Context) error {
	return c.Tick(ctx).Err
}

// =============================================================================
// Tick
// =============================================================================

// Tick polls the sampler once and writes the batch. Errors and panics are
// contained in the result.
func (c *Collector) Tick(ctx context.Context) (result TickResult) {
	result.Start = time.Now()
	c.ticks.Add(1)

	defer func() {
		// Recover from panic and convert to error result
		if r := recover(); r != nil {
			log.Error("panic in tick", "panic", r, "state", c.State())
			result.Samples = 0
			result.Err = fmt.Errorf("panic: %v", r)
			result.Stage = StagePanic
		}
		result.Duration = time.Since(result.Start)
		c.finish(result)
	}()

	c.setState(StatePolling)

	batch, err := c.poll(ctx)
	if err != nil {
		if !errors.IsSamplerError(err) {
			err = errors.NewSampler(errors.ErrTransportRead, "%v", err)
		}
		result.Err = err
		result.Stage = StagePoll
		return result
	}

	samples := batch.Samples()

	c.setState(StateWriting)
	if err := c.store.Write(ctx, samples); err != nil {
		result.Err = err
		result.Stage = StageWrite
		return result
	}

	result.Samples = len(samples)
	return result
}

// poll runs one sampler read bounded by the poll timeout.
func (c *Collector) poll(ctx context.Context) (sampler.Batch, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()
	return c.sampler.Poll(pollCtx)
}

func (c *Collector) finish(r TickResult) {
	c.mu.Lock()
	if r.OK() {
		c.lastSuccess = r.Start
	} else {
		c.lastErr = r.Err.Error()
	}
	onTick := c.onTick
	c.mu.Unlock()

	if r.OK() {
		c.successes.Add(1)
		c.samplesWritten.Add(int64(r.Samples))
		log.Debug("tick done", "samples", r.Samples, "duration", r.Duration)
	} else {
		c.setState(StateFailed)
		switch r.Stage {
		case StagePoll:
			c.samplerFailures.Add(1)
		case StageWrite:
			c.writeFailures.Add(1)
		case StagePanic:
			c.panics.Add(1)
		}
		log.Warn("tick failed", "stage", r.Stage, "error", r.Err, "duration", r.Duration)
	}

	if onTick != nil {
		onTick(r)
	}
	c.setState(StateIdle)
}
