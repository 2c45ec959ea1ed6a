package sqlite_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/sqlite"
	"github.com/xtxerr/sensorlog/internal/storage/storagetest"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "data", "db.sqlite")
	return cfg
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := sqlite.Open(testConfig(t))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}

func TestOpenEnablesWAL(t *testing.T) {
	s, err := sqlite.Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	mode, err := s.JournalMode(context.Background())
	if err != nil {
		t.Fatalf("JournalMode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal mode = %q, want wal", mode)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testConfig(t)

	s, err := sqlite.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Write(context.Background(), []types.Sample{{Entity: 1, TS: 100, Value: 21.5}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Close()

	// Initialization against an existing store must not touch its data.
	s, err = sqlite.Open(cfg)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s.Close()

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d after reopen, want 1", n)
	}
}

func TestOpenUnwritablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Path = filepath.Join(blocker, "db.sqlite")

	_, err := sqlite.Open(cfg)
	if !errors.Is(err, errors.ErrStorageInit) {
		t.Errorf("Open = %v, want ErrStorageInit", err)
	}
}

func TestOpenRejectsMemoryPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Path = config.MemoryPath

	_, err := sqlite.Open(cfg)
	if !errors.Is(err, errors.ErrStorageInit) {
		t.Errorf("Open = %v, want ErrStorageInit", err)
	}
}

func TestSchemaPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("custom schema applied", func(t *testing.T) {
		schema := filepath.Join(dir, "schema.sql")
		ddl := `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL,
			ts_utc INTEGER NOT NULL,
			value REAL NOT NULL,
			note TEXT,
			UNIQUE (entity_id, ts_utc)
		);`
		if err := os.WriteFile(schema, []byte(ddl), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg := testConfig(t)
		cfg.SchemaPath = schema
		s, err := sqlite.Open(cfg)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		s.Close()
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SchemaPath = filepath.Join(dir, "missing.sql")
		if _, err := sqlite.Open(cfg); !errors.Is(err, errors.ErrStorageInit) {
			t.Errorf("Open = %v, want ErrStorageInit", err)
		}
	})

	keyTests := []struct {
		name string
		ddl  string
		ok   bool
	}{
		{"composite primary key", `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL, ts_utc INTEGER NOT NULL, value REAL NOT NULL,
			PRIMARY KEY (entity_id, ts_utc));`, true},
		{"separate unique index", `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL, ts_utc INTEGER NOT NULL, value REAL NOT NULL);
			CREATE UNIQUE INDEX IF NOT EXISTS samples_key ON samples (ts_utc, entity_id);`, true},
		{"no unique key", `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL, ts_utc INTEGER NOT NULL, value REAL NOT NULL);`, false},
		{"non-unique index", `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL, ts_utc INTEGER NOT NULL, value REAL NOT NULL);
			CREATE INDEX IF NOT EXISTS samples_ts ON samples (entity_id, ts_utc);`, false},
		{"key on ts only", `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL, ts_utc INTEGER NOT NULL UNIQUE, value REAL NOT NULL);`, false},
		{"wider key", `CREATE TABLE IF NOT EXISTS samples (
			entity_id INTEGER NOT NULL, ts_utc INTEGER NOT NULL, value REAL NOT NULL,
			UNIQUE (entity_id, ts_utc, value));`, false},
	}
	for i, tt := range keyTests {
		t.Run(tt.name, func(t *testing.T) {
			schema := filepath.Join(dir, fmt.Sprintf("key%d.sql", i))
			if err := os.WriteFile(schema, []byte(tt.ddl), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg := testConfig(t)
			cfg.SchemaPath = schema

			s, err := sqlite.Open(cfg)
			if !tt.ok {
				if !errors.Is(err, errors.ErrStorageInit) {
					t.Errorf("Open = %v, want ErrStorageInit", err)
				}
				if s != nil {
					s.Close()
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()

			ctx := context.Background()
			for _, v := range []float64{1, 2} {
				if err := s.Write(ctx, []types.Sample{{Entity: 1, TS: 10, Value: v}}); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			got, err := s.ReadLatest(ctx, 1, 5)
			if err != nil || len(got) != 1 || got[0].Value != 2 {
				t.Errorf("ReadLatest = %+v, %v; want one row with value 2", got, err)
			}
		})
	}

	t.Run("wrong table", func(t *testing.T) {
		schema := filepath.Join(dir, "bad.sql")
		if err := os.WriteFile(schema, []byte("CREATE TABLE IF NOT EXISTS other (x INTEGER);"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg := testConfig(t)
		cfg.SchemaPath = schema
		if _, err := sqlite.Open(cfg); !errors.Is(err, errors.ErrStorageInit) {
			t.Errorf("Open = %v, want ErrStorageInit", err)
		}
	})
}

func TestReaderProcess(t *testing.T) {
	cfg := testConfig(t)

	w, err := sqlite.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	r, err := sqlite.OpenReadOnly(cfg)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	if err := w.Write(ctx, []types.Sample{{Entity: 1, TS: 100, Value: 20}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := r.ReadLatest(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 1 || got[0].Value != 20 {
		t.Errorf("reader saw %+v", got)
	}

	err = r.Write(ctx, []types.Sample{{Entity: 1, TS: 101, Value: 1}})
	if !errors.Is(err, errors.ErrReadOnly) || !errors.Is(err, errors.ErrStorageWrite) {
		t.Errorf("Write on reader = %v, want ErrReadOnly", err)
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	cfg := testConfig(t)
	if _, err := sqlite.OpenReadOnly(cfg); !errors.Is(err, errors.ErrStorageInit) {
		t.Errorf("OpenReadOnly = %v, want ErrStorageInit", err)
	}
}
