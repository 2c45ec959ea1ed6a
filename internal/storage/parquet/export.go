package parquet

import (
	"context"
	"fmt"
	"os"

	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// RangeReader is the part of a store Export needs.
type RangeReader interface {
	ReadRange(ctx context.Context, entity types.EntityID, from, to int64) ([]types.Sample, error)
}

// exportChunk bounds how many seconds of data are held in memory at once.
const exportChunk = 6 * 3600

// Export writes the samples of entities with from <= ts <= to to a new
// Parquet file at path, grouped by entity and ascending by timestamp.
// It returns the number of rows written.
//
// Rows go to path+".partial", which is renamed to path only after the file
// is complete. On error no file is left behind and an existing file at path
// is untouched.
func Export(ctx context.Context, src RangeReader, entities []types.EntityID, from, to int64, path string, opts Options) (n int64, err error) {
	if to < from {
		return 0, fmt.Errorf("export range [%d, %d] is empty", from, to)
	}

	tmp := path + ".partial"
	w, err := NewSampleWriter(tmp, opts)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			w.Close()
			os.Remove(tmp)
		}
	}()

	for _, entity := range entities {
		for start := from; start <= to; start += exportChunk {
			end := min(start+exportChunk-1, to)

			samples, err := src.ReadRange(ctx, entity, start, end)
			if err != nil {
				return 0, fmt.Errorf("read entity %d: %w", entity, err)
			}
			if err := w.Write(samples); err != nil {
				return 0, err
			}

			if end == to {
				break
			}
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("finalize export: %w", err)
	}
	return w.RowCount(), nil
}
