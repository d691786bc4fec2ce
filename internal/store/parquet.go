package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Compile-time interface check.
var _ TickStore = (*ParquetStore)(nil)

// ParquetStore implements TickStore with one Parquet file per flush at:
//
//	<DataDir>/<INSTRUMENT>/<yyyyMMdd_HHmmss_mmm>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// WriteTicks writes the buffer to a new flush file named after flushedAt.
func (s *ParquetStore) WriteTicks(_ context.Context, instrument string, flushedAt time.Time, ticks []TickRecord) error {
	if len(ticks) == 0 {
		return nil
	}
	path := s.tickPath(instrument, flushedAt)
	if err := writeParquetFile(path, ticks); err != nil {
		return fmt.Errorf("writing ticks for %s: %w", instrument, err)
	}
	return nil
}

// ReadTicks reads one flush file back in its stored order.
func (s *ParquetStore) ReadTicks(_ context.Context, path string) ([]TickRecord, error) {
	return parquet.ReadFile[TickRecord](path)
}

// ListFlushes lists an instrument's flush files. The timestamped file names
// make lexical order equal to flush order.
func (s *ParquetStore) ListFlushes(_ context.Context, instrument string) ([]string, error) {
	dir := filepath.Join(s.DataDir, instrument)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".parquet" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// tickPath returns the flush file path for an instrument and flush instant.
func (s *ParquetStore) tickPath(instrument string, t time.Time) string {
	name := fmt.Sprintf("%s_%03d.parquet", t.Format("20060102_150405"), t.Nanosecond()/1e6)
	return filepath.Join(s.DataDir, instrument, name)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
