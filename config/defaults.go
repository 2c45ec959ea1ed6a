// Package config provides configuration defaults and utilities
// for the sensorlog application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: listen
	DefaultListenAddress = "127.0.0.1:5000"

	// DefaultShutdownTimeout bounds how long in-flight HTTP requests may run
	// after a shutdown signal.
	DefaultShutdownTimeout = 10 * time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultStorageDriver is the backend used when none is configured.
	// Override via config: storage.driver
	DefaultStorageDriver = "sqlite"

	// DefaultDBPath is the sample database location, shared by the
	// collector and every reader process.
	// Override via config: storage.path
	DefaultDBPath = "data/db.sqlite"

	// DefaultBusyTimeout is how long a connection waits on a locked database
	// before failing. Bounds reader waits during a writer's commit.
	// Override via config: storage.busy_timeout
	DefaultBusyTimeout = 5 * time.Second

	// DefaultReadConns is the size of the read connection pool.
	// Override via config: storage.read_conns
	DefaultReadConns = 4
)

// =============================================================================
// Collector Defaults
// =============================================================================

const (
	// DefaultCollectInterval is the time between tick starts.
	// Override via config: collector.interval
	DefaultCollectInterval = time.Second

	// DefaultPollTimeout bounds a single sampler poll.
	// Override via config: collector.poll_timeout
	DefaultPollTimeout = 2 * time.Second

	// DefaultDrainTimeout is how long Stop waits for an in-flight tick.
	// Override via config: collector.drain_timeout
	DefaultDrainTimeout = 5 * time.Second
)

// =============================================================================
// Sampler Defaults
// =============================================================================

const (
	// DefaultSamplerDriver is the sampler used when none is configured.
	// Override via config: sampler.driver
	DefaultSamplerDriver = "modbus"

	// DefaultModbusDevice is the RS-485 adapter path.
	// Override via config: sampler.modbus.device
	DefaultModbusDevice = "/dev/ttyUSB0"

	// DefaultModbusBaudRate matches the SHT20 factory setting.
	DefaultModbusBaudRate = 9600

	// DefaultModbusParity is "N" (none). "E" and "O" are also accepted.
	DefaultModbusParity = "N"

	// DefaultModbusStopBits is the number of stop bits.
	DefaultModbusStopBits = 1

	// DefaultModbusTimeout is the per-call serial timeout.
	DefaultModbusTimeout = time.Second

	// DefaultModbusUnitID is the node id that answers on the bus.
	DefaultModbusUnitID = 1

	// DefaultModbusAddress is the first input register (30002).
	DefaultModbusAddress = 1

	// DefaultModbusDivisor scales raw register values (tenths).
	DefaultModbusDivisor = 10.0

	// DefaultSNMPPort is the standard SNMP agent port.
	DefaultSNMPPort = 161

	// DefaultSNMPTimeout is the timeout for a single SNMP request.
	DefaultSNMPTimeout = 2 * time.Second

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	DefaultSNMPRetries = 1
)

// Entity ids for the two SHT20 channels.
const (
	EntityTemperature int64 = 1
	EntityHumidity    int64 = 2
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultMinBucketSec is the smallest bucket width a series may use.
	// Bounds the size of a series response.
	// Override via config: query.min_bucket_sec
	DefaultMinBucketSec = 60

	// DefaultStreamInterval is the live feed emission period.
	// Override via config: query.stream_interval
	DefaultStreamInterval = time.Second

	// DefaultPercentileAccuracy is the DDSketch relative accuracy for summaries.
	DefaultPercentileAccuracy = 0.01

	// DefaultLatestLimit caps n on latest queries.
	DefaultLatestLimit = 10000

	// DefaultMaxDuration caps how far back a series or summary may reach.
	// Override via config: query.max_duration
	DefaultMaxDuration = 366 * 24 * time.Hour

	// DefaultMaxPoints caps the number of points in one series response.
	// 30 days at the minimum bucket width fits.
	// Override via config: query.max_points
	DefaultMaxPoints = 50000
)
