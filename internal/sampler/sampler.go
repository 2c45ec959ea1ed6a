// Package sampler reads current values from sensor hardware.
//
// A Sampler returns one Batch per Poll: every reading in the batch shares a
// single wall-clock timestamp taken when the poll started. Transport
// resources are opened and released inside each Poll, so a failed poll
// leaves nothing behind for the next one.
//
// All failures wrap errors.ErrSampler together with one kind:
// errors.ErrTransportOpen, errors.ErrTransportRead,
// errors.ErrMalformedResponse or errors.ErrTimeout.
package sampler

import (
	"context"
	"strings"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

var log = logging.Component("sampler")

// Drivers accepted by New.
const (
	DriverModbus = "modbus"
	DriverSNMP   = "snmp"
	DriverMock   = "mock"
)

// Reading is one value read from the hardware.
type Reading struct {
	Entity types.EntityID
	Value  float64
}

// Batch is the result of one successful poll.
type Batch struct {
	Timestamp int64 // Unix seconds, UTC
	Readings  []Reading
}

// Samples stamps every reading with the batch timestamp.
func (b Batch) Samples() []types.Sample {
	out := make([]types.Sample, len(b.Readings))
	for i, r := range b.Readings {
		out[i] = types.Sample{Entity: r.Entity, TS: b.Timestamp, Value: r.Value}
	}
	return out
}

// Sampler reads the current values of a fixed set of entities.
type Sampler interface {
	// Poll performs one read. It returns a Batch with one reading per
	// configured entity, in configuration order, or a sampler error.
	Poll(ctx context.Context) (Batch, error)

	// Name describes the sampler for logs.
	Name() string
}

// Config selects and configures a sampler.
type Config struct {
	Driver string
	Modbus ModbusConfig
	SNMP   SNMPConfig
	Mock   MockConfig
}

// New builds the sampler selected by cfg.Driver.
func New(cfg Config) (Sampler, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverModbus, "":
		return NewModbus(cfg.Modbus)
	case DriverSNMP:
		return NewSNMP(cfg.SNMP)
	case DriverMock:
		return NewMock(cfg.Mock), nil
	default:
		return nil, errors.Wrapf(errors.ErrUnknownDriver, "sampler.driver %q", cfg.Driver)
	}
}

// clock returns now, defaulting to the wall clock.
func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return time.Now
}

// checkContext classifies an expired context as a sampler timeout.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewSampler(errors.ErrTimeout, "%v", err)
	}
	return nil
}

// isTimeoutError reports whether a transport error was a timeout.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
