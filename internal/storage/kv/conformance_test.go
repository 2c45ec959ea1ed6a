package kv_test

import (
	"testing"

	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/kv"
	"github.com/xtxerr/sensorlog/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		cfg := config.DefaultConfig()
		cfg.Driver = config.DriverBadger
		cfg.Path = config.MemoryPath

		s, err := kv.Open(cfg)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}
