// Package loader - Configuration Types
//
// Defines the YAML configuration structure for sensorlogd and sensorctl.
//
//	listen:     HTTP query API address
//	tls:        optional certificate for the API
//	log:        level and format
//	storage:    backend driver and location
//	collector:  tick cadence and per-tick timeouts
//	sampler:    modbus | snmp | mock transport settings
//	query:      bucket floor, live feed cadence, tracked entities
//	api:        per-client limits
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/sensorlog/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	// Listen is the HTTP API listen address.
	// Default: "127.0.0.1:5000"
	Listen string `yaml:"listen"`

	// TLS configures transport layer security for the API.
	TLS TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds the drain of in-flight requests.
	// Default: 10s
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Collector CollectorConfig `yaml:"collector"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Query     QueryConfig     `yaml:"query"`
	API       APIConfig       `yaml:"api"`
}

// TLSConfig configures transport layer security.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	// Leave empty to serve plain HTTP.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is "text" or "json".
	// Default: text
	Format string `yaml:"format"`
}

// =============================================================================
// Storage
// =============================================================================

// StorageConfig configures the sample store.
type StorageConfig struct {
	// Driver is "sqlite", "duckdb" or "badger".
	// Default: sqlite
	Driver string `yaml:"driver"`

	// Path is the database file, or the directory for badger.
	// ":memory:" selects an in-memory store (duckdb, badger).
	// Default: data/db.sqlite
	Path string `yaml:"path"`

	// SchemaPath replaces the embedded sqlite schema.
	SchemaPath string `yaml:"schema_path"`

	// BusyTimeout bounds lock waits.
	// Default: 5s
	BusyTimeout Duration `yaml:"busy_timeout"`

	// ReadConns is the read pool size.
	// Default: 4
	ReadConns int `yaml:"read_conns"`
}

// =============================================================================
// Collector
// =============================================================================

// CollectorConfig configures the polling loop.
type CollectorConfig struct {
	// Interval is the time between tick starts.
	// Default: 1s
	Interval Duration `yaml:"interval"`

	// PollTimeout bounds a single sampler poll.
	// Default: 2s
	PollTimeout Duration `yaml:"poll_timeout"`

	// DrainTimeout is how long shutdown waits for an in-flight tick.
	// Default: 5s
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// =============================================================================
// Sampler
// =============================================================================

// SamplerConfig selects and configures the sampler.
type SamplerConfig struct {
	// Driver is "modbus", "snmp" or "mock".
	// Default: modbus
	Driver string `yaml:"driver"`

	Modbus ModbusConfig `yaml:"modbus"`
	SNMP   SNMPConfig   `yaml:"snmp"`
	Mock   MockConfig   `yaml:"mock"`
}

// ModbusConfig configures Modbus RTU over a serial line.
type ModbusConfig struct {
	Device   string   `yaml:"device"`
	BaudRate int      `yaml:"baud_rate"`
	DataBits int      `yaml:"data_bits"`
	Parity   string   `yaml:"parity"`
	StopBits int      `yaml:"stop_bits"`
	Timeout  Duration `yaml:"timeout"`
	UnitID   int      `yaml:"unit_id"`

	// Address is the first input register, zero based.
	Address int `yaml:"address"`

	// Entities maps consecutive registers to entity ids.
	Entities []int64 `yaml:"entities"`

	Divisor float64 `yaml:"divisor"`
	Signed  bool    `yaml:"signed"`
}

// SNMPConfig configures SNMP GET polling.
type SNMPConfig struct {
	Host string      `yaml:"host"`
	Port int         `yaml:"port"`
	OIDs []SNMPOID   `yaml:"oids"`
	V3   *SNMPv3Auth `yaml:"v3"`

	// Community is the v2c community string.
	// Use environment variables: "${SNMP_COMMUNITY}"
	Community string `yaml:"community"`

	Timeout Duration `yaml:"timeout"`
	Retries int      `yaml:"retries"`
}

// SNMPOID maps one OID to an entity.
type SNMPOID struct {
	OID     string  `yaml:"oid"`
	Entity  int64   `yaml:"sensor_id"`
	Divisor float64 `yaml:"divisor"`
}

// SNMPv3Auth holds SNMPv3 credentials.
type SNMPv3Auth struct {
	SecurityName  string `yaml:"security_name"`
	SecurityLevel string `yaml:"security_level"`
	AuthProtocol  string `yaml:"auth_protocol"`
	AuthPassword  string `yaml:"auth_password"`
	PrivProtocol  string `yaml:"priv_protocol"`
	PrivPassword  string `yaml:"priv_password"`
	ContextName   string `yaml:"context_name"`
}

// MockConfig configures the development sampler.
type MockConfig struct {
	Entities []int64 `yaml:"entities"`
}

// =============================================================================
// Query and API
// =============================================================================

// QueryConfig configures the read path.
type QueryConfig struct {
	// MinBucketSec is the smallest series bucket width.
	// Default: 60
	MinBucketSec int64 `yaml:"min_bucket_sec"`

	// StreamInterval is the live feed emission period.
	// Default: 1s
	StreamInterval Duration `yaml:"stream_interval"`

	// Entities are reported by the live feed.
	// Default: [1, 2]
	Entities []int64 `yaml:"entities"`

	// PercentileAccuracy is the summary relative accuracy; 0 disables
	// percentiles.
	// Default: 0.01
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`

	// LatestLimit caps n on latest queries.
	// Default: 10000
	LatestLimit int `yaml:"latest_limit"`

	// MaxDuration caps the range of a series or summary.
	// Default: 8784h (366 days)
	MaxDuration Duration `yaml:"max_duration"`

	// MaxPoints caps the number of points in one series response.
	// Default: 50000
	MaxPoints int64 `yaml:"max_points"`
}

// APIConfig configures HTTP limits.
type APIConfig struct {
	// MaxStreamsPerClient caps concurrent live feeds per client IP.
	// 0 means unlimited. Default: 8
	MaxStreamsPerClient int `yaml:"max_streams_per_client"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Listen:          config.DefaultListenAddress,
		ShutdownTimeout: Duration(config.DefaultShutdownTimeout),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Driver:      config.DefaultStorageDriver,
			Path:        config.DefaultDBPath,
			BusyTimeout: Duration(config.DefaultBusyTimeout),
			ReadConns:   config.DefaultReadConns,
		},
		Collector: CollectorConfig{
			Interval:     Duration(config.DefaultCollectInterval),
			PollTimeout:  Duration(config.DefaultPollTimeout),
			DrainTimeout: Duration(config.DefaultDrainTimeout),
		},
		Sampler: SamplerConfig{
			Driver: config.DefaultSamplerDriver,
			Modbus: ModbusConfig{
				Device:   config.DefaultModbusDevice,
				BaudRate: config.DefaultModbusBaudRate,
				DataBits: 8,
				Parity:   config.DefaultModbusParity,
				StopBits: config.DefaultModbusStopBits,
				Timeout:  Duration(config.DefaultModbusTimeout),
				UnitID:   config.DefaultModbusUnitID,
				Address:  config.DefaultModbusAddress,
				Entities: []int64{config.EntityTemperature, config.EntityHumidity},
				Divisor:  config.DefaultModbusDivisor,
			},
			SNMP: SNMPConfig{
				Port:    config.DefaultSNMPPort,
				Timeout: Duration(config.DefaultSNMPTimeout),
				Retries: config.DefaultSNMPRetries,
			},
			Mock: MockConfig{
				Entities: []int64{config.EntityTemperature, config.EntityHumidity},
			},
		},
		Query: QueryConfig{
			MinBucketSec:       config.DefaultMinBucketSec,
			StreamInterval:     Duration(config.DefaultStreamInterval),
			Entities:           []int64{config.EntityTemperature, config.EntityHumidity},
			PercentileAccuracy: config.DefaultPercentileAccuracy,
			LatestLimit:        config.DefaultLatestLimit,
			MaxDuration:        Duration(config.DefaultMaxDuration),
			MaxPoints:          config.DefaultMaxPoints,
		},
		API: APIConfig{
			MaxStreamsPerClient: 8,
		},
	}
}

// =============================================================================
// Helper Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "1s", "500ms", "1h30m", or plain integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)

	// Try as int (seconds)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
