package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/utkarsh5026/pararun/internal/keys"
)

// JSONLStore is a Cache backed by a newline-delimited JSON file.
//
// Each flush appends the whole buffer with a single write followed by fsync. The
// file size observed before the write is the durable offset: if the write or the
// sync fails the file is truncated back to it, so a later retry of the same buffer
// cannot leave duplicated lines behind.
type JSONLStore struct {
	path string
	opts Options

	mu     sync.Mutex
	known  *keys.Set
	buf    [][]byte
	stats  Stats
	closed bool
}

var _ Cache = (*JSONLStore)(nil)

// OpenJSONL returns a store for the log at path. The file is created on the first
// flush; nothing is read until Load.
func OpenJSONL(path string, opts Options) (*JSONLStore, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	opts = opts.withDefaults()
	return &JSONLStore{
		path:  path,
		opts:  opts,
		known: keys.NewSet(),
		buf:   make([][]byte, 0, min(opts.FlushThreshold, 4096)),
	}, nil
}

// Path returns the log file path.
func (s *JSONLStore) Path() string { return s.path }

// Load scans the log and seeds the known keys. A missing log yields an empty set.
func (s *JSONLStore) Load(ctx context.Context) (*keys.Set, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.opts.Metrics.CacheLoaded(0, 0)
		return s.known, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", s.path, err)
	}
	defer f.Close()

	loaded, malformed, err := s.scan(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load cache %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.stats.Loaded += loaded
	s.stats.Malformed += malformed
	s.mu.Unlock()

	s.opts.Metrics.CacheLoaded(loaded, malformed)
	s.opts.Logger.Debug("cache_loaded",
		zap.String("path", s.path),
		zap.Int("keys", loaded),
		zap.Int("malformed", malformed),
	)
	return s.known, nil
}

func (s *JSONLStore) scan(ctx context.Context, r io.Reader) (loaded, malformed int, err error) {
	err = ScanJSONL(ctx, r, s.opts.KeyField, func(lineNo int, key keys.Key, err error) {
		if err != nil {
			malformed++
			s.opts.Logger.Warn("cache_line_malformed",
				zap.String("path", s.path),
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			return
		}
		if s.known.Add(key) {
			loaded++
		}
	})
	return loaded, malformed, err
}

// Append records result. Reaching the flush threshold triggers a flush whose
// failure is logged and leaves the buffer intact.
func (s *JSONLStore) Append(result any) error {
	raw, key, err := encodeRecord(result, s.opts.KeyField)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.known.Add(key)
	s.buf = append(s.buf, raw)
	s.stats.Appended++

	if len(s.buf) >= s.opts.FlushThreshold {
		_ = s.flushLocked()
	}
	return nil
}

// Flush appends the buffer to the log.
func (s *JSONLStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *JSONLStore) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}

	start := time.Now()
	if err := s.writeBatch(); err != nil {
		s.stats.FlushFailures++
		s.opts.Metrics.CacheFlushFailed()
		s.opts.Logger.Error("cache_flush_failed",
			zap.String("path", s.path),
			zap.Int("buffered", len(s.buf)),
			zap.Error(err),
		)
		return fmt.Errorf("flush cache %s: %w", s.path, err)
	}

	n := len(s.buf)
	s.stats.Flushed += n
	clear(s.buf)
	s.buf = s.buf[:0]

	s.opts.Metrics.CacheFlushed(n, time.Since(start))
	return nil
}

func (s *JSONLStore) writeBatch() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	offset := info.Size()

	var batch bytes.Buffer
	if offset > 0 {
		// a previous writer may have died mid-line
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, offset-1); err != nil {
			return err
		}
		if last[0] != '\n' {
			batch.WriteByte('\n')
		}
	}
	for _, rec := range s.buf {
		batch.Write(rec)
		batch.WriteByte('\n')
	}

	if _, err := f.Write(batch.Bytes()); err != nil {
		return rollback(f, offset, err)
	}
	if err := f.Sync(); err != nil {
		return rollback(f, offset, err)
	}
	return nil
}

func rollback(f *os.File, offset int64, cause error) error {
	if err := f.Truncate(offset); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate to durable offset %d: %w", offset, err))
	}
	return cause
}

// Key derives the key of an input item.
func (s *JSONLStore) Key(item any) keys.Key {
	return keys.Of(item, s.opts.KeyField)
}

// Stats returns a snapshot of the store's counters.
func (s *JSONLStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Buffered = len(s.buf)
	return st
}

// Close marks the store closed. Buffered records that were not flushed are dropped.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
