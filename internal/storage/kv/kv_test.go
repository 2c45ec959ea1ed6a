package kv

import (
	"context"
	"math"
	"testing"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

func TestKeyOrdering(t *testing.T) {
	tests := []struct {
		entity int64
		ts     int64
	}{
		{1, 0},
		{1, 255},
		{1, 256},
		{1, math.MaxInt32},
		{2, 0},
	}
	for i := 1; i < len(tests); i++ {
		a := encodeKey(tests[i-1].entity, tests[i-1].ts)
		b := encodeKey(tests[i].entity, tests[i].ts)
		if string(a) >= string(b) {
			t.Errorf("key(%v) >= key(%v)", tests[i-1], tests[i])
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	entity, ts, err := decodeKey(encodeKey(7, 1_700_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if entity != 7 || ts != 1_700_000_000 {
		t.Errorf("decodeKey = (%d, %d)", entity, ts)
	}

	if _, _, err := decodeKey([]byte("short")); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestReadOnlyOnDisk(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Driver = config.DriverBadger
	cfg.Path = t.TempDir()

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.Write(ctx, []types.Sample{{Entity: 1, TS: 10, Value: 2.5}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReadOnly(cfg)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer r.Close()

	got, err := r.ReadLatest(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(got) != 1 || got[0].Value != 2.5 {
		t.Errorf("got %+v", got)
	}
	if err := r.Write(ctx, []types.Sample{{Entity: 1, TS: 11, Value: 1}}); !errors.Is(err, errors.ErrReadOnly) {
		t.Errorf("Write = %v, want ErrReadOnly", err)
	}
}
