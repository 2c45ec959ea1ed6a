package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/sampler"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("SENSORLOG_DB", "/var/lib/sensorlog/db.sqlite")

	path := writeConfig(t, `
listen: ":8080"
log:
  level: debug
  format: json
storage:
  path: ${SENSORLOG_DB}
  busy_timeout: 250ms
collector:
  interval: 5
  poll_timeout: 1500ms
sampler:
  driver: mock
  mock:
    entities: [3]
query:
  min_bucket_sec: 30
  entities: [3]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/lib/sensorlog/db.sqlite", cfg.Storage.Path)
	assert.Equal(t, "sqlite", cfg.Storage.Driver, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.BusyTimeout.Duration())
	assert.Equal(t, 5*time.Second, cfg.Collector.Interval.Duration(), "integers are seconds")
	assert.Equal(t, 1500*time.Millisecond, cfg.Collector.PollTimeout.Duration())
	assert.Equal(t, []int64{3}, cfg.Sampler.Mock.Entities)
	assert.Equal(t, int64(30), cfg.Query.MinBucketSec)
}

func TestLoadExampleFile(t *testing.T) {
	t.Setenv("SNMP_COMMUNITY", "monitoring")

	cfg, err := Load(filepath.Join("..", "..", "config", "sensorlog.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "monitoring", cfg.Sampler.SNMP.Community)
	require.Len(t, cfg.Sampler.SNMP.OIDs, 1)
	assert.Equal(t, int64(1), cfg.Sampler.SNMP.OIDs[0].Entity)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":      "listen: [",
		"unknown key": "listne: \":80\"",
		"duration":    "collector:\n  interval: soon",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.Log.Level = "loud"
	cfg.Storage.Driver = "postgres"
	cfg.Collector.Interval = 0
	cfg.Sampler.Modbus.Parity = "X"
	cfg.Query.PercentileAccuracy = 1.5

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, errors.Is(err, errors.ErrUnknownDriver))

	var verrs *errors.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.GreaterOrEqual(t, len(verrs.Errors), 6)

	for _, field := range []string{"listen", "log.level", "storage.driver", "collector.interval", "sampler.modbus.parity", "query.percentile_accuracy"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidateSamplerDrivers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampler.Driver = "snmp"
	assert.Error(t, Validate(cfg), "snmp without host or oids")

	cfg.Sampler.SNMP.Host = "192.0.2.1"
	cfg.Sampler.SNMP.Community = "public"
	cfg.Sampler.SNMP.OIDs = []SNMPOID{{OID: ".1.3.6.1.2.1.1.3.0", Entity: 1}}
	assert.NoError(t, Validate(cfg))

	cfg.Sampler.Driver = "canbus"
	assert.True(t, errors.Is(Validate(cfg), errors.ErrUnknownDriver))

	cfg.Sampler.Driver = "modbus"
	cfg.Sampler.Modbus.UnitID = 300
	assert.Error(t, Validate(cfg))
}

func TestValidateSQLiteMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = ":memory:"
	assert.Error(t, Validate(cfg))

	cfg.Storage.Driver = "badger"
	assert.NoError(t, Validate(cfg))
}

func TestConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampler.Modbus.Parity = "e"
	cfg.Sampler.SNMP.V3 = &SNMPv3Auth{SecurityName: "ops", SecurityLevel: "authPriv", AuthProtocol: "SHA"}

	st := ToStorageConfig(cfg)
	assert.Equal(t, "data/db.sqlite", st.Path)
	assert.Equal(t, 5*time.Second, st.BusyTimeout)

	col := ToCollectorConfig(cfg)
	assert.Equal(t, time.Second, col.Interval)
	assert.Equal(t, 2*time.Second, col.PollTimeout)

	sc := ToSamplerConfig(cfg)
	assert.Equal(t, sampler.DriverModbus, sc.Driver)
	assert.Equal(t, "E", sc.Modbus.Parity)
	assert.Equal(t, byte(1), sc.Modbus.UnitID)
	assert.Equal(t, uint16(1), sc.Modbus.Address)
	assert.Equal(t, []types.EntityID{1, 2}, sc.Modbus.Entities)
	assert.Equal(t, "ops", sc.SNMP.SecurityName)

	q := ToQueryConfig(cfg)
	assert.Equal(t, int64(60), q.MinBucketSec)
	assert.Equal(t, time.Second, q.StreamInterval)
	assert.Equal(t, []types.EntityID{1, 2}, q.Entities)
	assert.Equal(t, int64(366*24*3600), q.MaxDuration)
	assert.Equal(t, int64(50000), q.MaxPoints)

	// converted slices must not alias the file config
	q.Entities[0] = 99
	assert.Equal(t, int64(1), cfg.Query.Entities[0])
}
