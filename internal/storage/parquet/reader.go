package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// SampleReader reads samples from a Parquet file.
type SampleReader struct {
	file   *os.File
	reader *parquet.GenericReader[SampleRow]
	path   string
}

// NewSampleReader creates a new sample Parquet reader.
func NewSampleReader(path string) (*SampleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[SampleRow](f)

	return &SampleReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n samples from the file. It returns io.EOF once every
// row has been read.
func (r *SampleReader) Read(n int) ([]types.Sample, error) {
	rows := make([]SampleRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	samples := make([]types.Sample, count)
	for i := 0; i < count; i++ {
		samples[i] = RowToSample(&rows[i])
	}

	return samples, nil
}

// ReadAll reads all samples from the file.
func (r *SampleReader) ReadAll() ([]types.Sample, error) {
	numRows := r.reader.NumRows()
	rows := make([]SampleRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	samples := make([]types.Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = RowToSample(&rows[i])
	}

	return samples, nil
}

// NumRows returns the total number of rows in the file.
func (r *SampleReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *SampleReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *SampleReader) Path() string {
	return r.path
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a sample Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[SampleRow](f)
	defer reader.Close()

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: reader.NumRows(),
	}, nil
}
