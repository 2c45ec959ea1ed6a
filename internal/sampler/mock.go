package sampler

import (
	"context"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// MockConfig configures the development sampler.
type MockConfig struct {
	// Entities to report, default temperature and humidity.
	Entities []types.EntityID

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// MockSampler produces deterministic readings from the clock so the whole
// pipeline can run without hardware. Even positions follow (now%100)/2 and
// odd positions (now%50)+10.
type MockSampler struct {
	entities []types.EntityID
	now      func() time.Time
}

// NewMock creates a mock sampler.
func NewMock(cfg MockConfig) *MockSampler {
	entities := cfg.Entities
	if len(entities) == 0 {
		entities = []types.EntityID{config.EntityTemperature, config.EntityHumidity}
	}
	return &MockSampler{entities: entities, now: clock(cfg.Now)}
}

// Name describes the sampler for logs.
func (s *MockSampler) Name() string {
	return "mock"
}

// Poll returns one reading per entity.
func (s *MockSampler) Poll(ctx context.Context) (Batch, error) {
	if err := checkContext(ctx); err != nil {
		return Batch{}, err
	}

	now := s.now().Unix()
	batch := Batch{Timestamp: now, Readings: make([]Reading, len(s.entities))}
	for i, entity := range s.entities {
		var v float64
		if i%2 == 0 {
			v = float64(now%100) / 2.0
		} else {
			v = float64(now%50) + 10.0
		}
		batch.Readings[i] = Reading{Entity: entity, Value: v}
	}
	return batch, nil
}
