package dkv

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dd0wney/sparsebm/pkg/cohort"
)

// FileOptions configures the file-backed store.
type FileOptions struct {
	// Dir is the directory holding one row file per key.
	Dir string `yaml:"dir" validate:"required"`
}

// FileStore is the local transport: every row lives in its own file under
// one directory. Meant for single-process runs and tests; with a shared
// filesystem it also serves as a slow but simple multi-worker store.
type FileStore struct {
	opts FileOptions
	coh  cohort.Cohort

	valueSize   int
	totalValues int
	cache       *rowArena
	stage       *rowArena
	initialized bool
}

// NewFileStore creates a file-backed store. coh may be nil for
// single-process runs; Barrier is then a no-op.
func NewFileStore(opts FileOptions, coh cohort.Cohort) *FileStore {
	return &FileStore{opts: opts, coh: coh}
}

// Init implements Store.
func (s *FileStore) Init(valueSize, totalValues, maxCacheEntries, maxWriteEntries int) error {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create dkv dir %s: %w", s.opts.Dir, err)
	}
	s.valueSize = valueSize
	s.totalValues = totalValues
	s.cache = newRowArena(valueSize, maxCacheEntries)
	s.stage = newRowArena(valueSize, maxWriteEntries)
	s.initialized = true
	return nil
}

func (s *FileStore) rowPath(key int32) string {
	return filepath.Join(s.opts.Dir, fmt.Sprintf("row-%d.bin", key))
}

func (s *FileStore) checkKey(key int32) error {
	if key < 0 || int(key) >= s.totalValues {
		return fmt.Errorf("%w: %d of %d", ErrKeyRange, key, s.totalValues)
	}
	return nil
}

// Read implements Store.
func (s *FileStore) Read(keys []int32, out [][]float64, mode Mode) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	for i, key := range keys {
		if err := s.checkKey(key); err != nil {
			return err
		}
		if row := s.cache.lookup(key); row != nil {
			out[i] = row
			continue
		}
		row, err := s.cache.alloc(key)
		if err != nil {
			return err
		}
		if err := s.readRow(key, row); err != nil {
			return err
		}
		out[i] = row
	}
	return nil
}

func (s *FileStore) readRow(key int32, row []float64) error {
	data, err := os.ReadFile(s.rowPath(key))
	if err != nil {
		return fmt.Errorf("read row %d: %w", key, err)
	}
	if len(data) != 8*len(row) {
		return fmt.Errorf("read row %d: %d bytes, want %d", key, len(data), 8*len(row))
	}
	for i := range row {
		row[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return nil
}

// Write implements Store. Rows are written through immediately; staging
// only enforces the configured batch bound.
func (s *FileStore) Write(keys []int32, values [][]float64) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	for i, key := range keys {
		if err := s.checkKey(key); err != nil {
			return err
		}
		row, err := s.stage.alloc(key)
		if err != nil {
			return err
		}
		copy(row, values[i])
		if err := s.writeRow(key, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeRow(key int32, row []float64) error {
	data := make([]byte, 8*len(row))
	for i, v := range row {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	if err := os.WriteFile(s.rowPath(key), data, 0o644); err != nil {
		return fmt.Errorf("write row %d: %w", key, err)
	}
	return nil
}

// Purge implements Store.
func (s *FileStore) Purge() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	s.cache.reset()
	s.stage.reset()
	return nil
}

// Barrier implements Store.
func (s *FileStore) Barrier() error {
	if s.coh == nil {
		return nil
	}
	if err := s.coh.Barrier(); err != nil {
		return transportErr("barrier", err)
	}
	return nil
}

// IncludeMaster implements Store. The file store has no shards; every
// member including the master serves its own reads.
func (s *FileStore) IncludeMaster() bool {
	return true
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
