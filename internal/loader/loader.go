// Package loader handles configuration file loading, validation, and
// conversion into the configuration of each component.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating every section at once
//   - Converting the file layout into storage, sampler, collector and
//     query configuration
package loader

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/sensorlog/internal/collector"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/sampler"
	storageconfig "github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/query"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file over the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("config file not found, using defaults", "path", path)
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults after expanding environment
// variables. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration, reporting every problem at once.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server validation
	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		errs.AddField("tls", "cert_file and key_file must be set together")
	}

	// Log validation
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs.Add(errors.NewInvalidValue("log.level", cfg.Log.Level, "must be debug, info, warn or error"))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		errs.Add(errors.NewInvalidValue("log.format", cfg.Log.Format, "must be text or json"))
	}

	// Storage validation
	errs.Add(ToStorageConfig(cfg).Validate())

	// Collector validation
	if cfg.Collector.Interval.Duration() <= 0 {
		errs.AddField("collector.interval", "must be positive")
	}
	if cfg.Collector.PollTimeout.Duration() <= 0 {
		errs.AddField("collector.poll_timeout", "must be positive")
	}
	if cfg.Collector.DrainTimeout.Duration() < 0 {
		errs.AddField("collector.drain_timeout", "cannot be negative")
	}

	// Sampler validation
	validateSampler(cfg, errs)

	// Query validation
	if cfg.Query.MinBucketSec < 1 {
		errs.AddField("query.min_bucket_sec", "must be at least 1")
	}
	if cfg.Query.StreamInterval.Duration() <= 0 {
		errs.AddField("query.stream_interval", "must be positive")
	}
	if cfg.Query.PercentileAccuracy < 0 || cfg.Query.PercentileAccuracy >= 1 {
		errs.Add(errors.NewInvalidValue("query.percentile_accuracy", cfg.Query.PercentileAccuracy, "must be in [0, 1)"))
	}
	if cfg.Query.LatestLimit < 0 {
		errs.AddField("query.latest_limit", "cannot be negative")
	}
	if cfg.Query.MaxDuration.Duration() < 0 {
		errs.AddField("query.max_duration", "cannot be negative")
	}
	if cfg.Query.MaxPoints < 0 {
		errs.AddField("query.max_points", "cannot be negative")
	}
	for i, e := range cfg.Query.Entities {
		if e <= 0 {
			errs.AddField(fmt.Sprintf("query.entities[%d]", i), "must be positive")
		}
	}

	if cfg.API.MaxStreamsPerClient < 0 {
		errs.AddField("api.max_streams_per_client", "cannot be negative")
	}

	return errs.Err()
}

func validateSampler(cfg *Config, errs *errors.ValidationErrors) {
	sc := ToSamplerConfig(cfg)

	switch strings.ToLower(cfg.Sampler.Driver) {
	case sampler.DriverModbus, "":
		if cfg.Sampler.Modbus.UnitID < 0 || cfg.Sampler.Modbus.UnitID > 247 {
			errs.Add(errors.NewInvalidValue("sampler.modbus.unit_id", cfg.Sampler.Modbus.UnitID, "must be 0-247"))
		}
		if cfg.Sampler.Modbus.Address < 0 || cfg.Sampler.Modbus.Address > 0xFFFF {
			errs.Add(errors.NewInvalidValue("sampler.modbus.address", cfg.Sampler.Modbus.Address, "must be 0-65535"))
		}
		errs.Add(sc.Modbus.Validate())
	case sampler.DriverSNMP:
		if cfg.Sampler.SNMP.Port < 0 || cfg.Sampler.SNMP.Port > 0xFFFF {
			errs.Add(errors.NewInvalidValue("sampler.snmp.port", cfg.Sampler.SNMP.Port, "must be 0-65535"))
		}
		errs.Add(sc.SNMP.Validate())
	case sampler.DriverMock:
	default:
		errs.Add(errors.Wrapf(errors.ErrUnknownDriver, "sampler.driver %q", cfg.Sampler.Driver))
	}
}

// =============================================================================
// Conversion
// =============================================================================

// ToStorageConfig converts the storage section.
func ToStorageConfig(cfg *Config) *storageconfig.Config {
	s := cfg.Storage
	return &storageconfig.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		SchemaPath:  s.SchemaPath,
		BusyTimeout: s.BusyTimeout.Duration(),
		ReadConns:   s.ReadConns,
	}
}

// ToCollectorConfig converts the collector section.
func ToCollectorConfig(cfg *Config) *collector.Config {
	c := cfg.Collector
	return &collector.Config{
		Interval:     c.Interval.Duration(),
		PollTimeout:  c.PollTimeout.Duration(),
		DrainTimeout: c.DrainTimeout.Duration(),
	}
}

// ToSamplerConfig converts the sampler section.
func ToSamplerConfig(cfg *Config) sampler.Config {
	m := cfg.Sampler.Modbus
	s := cfg.Sampler.SNMP

	out := sampler.Config{
		Driver: cfg.Sampler.Driver,
		Modbus: sampler.ModbusConfig{
			Device:   m.Device,
			BaudRate: m.BaudRate,
			DataBits: m.DataBits,
			Parity:   strings.ToUpper(m.Parity),
			StopBits: m.StopBits,
			Timeout:  m.Timeout.Duration(),
			UnitID:   byte(m.UnitID),
			Address:  uint16(m.Address),
			Entities: toEntities(m.Entities),
			Divisor:  m.Divisor,
			Signed:   m.Signed,
		},
		SNMP: sampler.SNMPConfig{
			Host:      s.Host,
			Port:      uint16(s.Port),
			Community: s.Community,
			Timeout:   s.Timeout.Duration(),
			Retries:   s.Retries,
		},
		Mock: sampler.MockConfig{
			Entities: toEntities(cfg.Sampler.Mock.Entities),
		},
	}

	for _, o := range s.OIDs {
		out.SNMP.OIDs = append(out.SNMP.OIDs, sampler.SNMPOID{
			OID:     o.OID,
			Entity:  o.Entity,
			Divisor: o.Divisor,
		})
	}
	if v3 := s.V3; v3 != nil {
		out.SNMP.SecurityName = v3.SecurityName
		out.SNMP.SecurityLevel = v3.SecurityLevel
		out.SNMP.AuthProtocol = v3.AuthProtocol
		out.SNMP.AuthPassword = v3.AuthPassword
		out.SNMP.PrivProtocol = v3.PrivProtocol
		out.SNMP.PrivPassword = v3.PrivPassword
		out.SNMP.ContextName = v3.ContextName
	}

	return out
}

// ToQueryConfig converts the query section.
func ToQueryConfig(cfg *Config) *query.Config {
	q := cfg.Query
	return &query.Config{
		MinBucketSec:       q.MinBucketSec,
		StreamInterval:     q.StreamInterval.Duration(),
		Entities:           toEntities(q.Entities),
		PercentileAccuracy: q.PercentileAccuracy,
		LatestLimit:        q.LatestLimit,
		MaxDuration:        int64(q.MaxDuration.Duration() / time.Second),
		MaxPoints:          q.MaxPoints,
	}
}

func toEntities(ids []int64) []types.EntityID {
	out := make([]types.EntityID, len(ids))
	copy(out, ids)
	return out
}
