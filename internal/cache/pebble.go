package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/utkarsh5026/pararun/internal/keys"
)

var (
	recordPrefix = []byte("log/")
	recordEnd    = []byte("log0") // '0' sorts right after '/'
)

// PebbleStore is a Cache backed by an embedded pebble database.
//
// Records form an append-only log keyed by a big-endian sequence number, so the
// completion order is preserved and duplicates are kept exactly as in the JSONL
// file. A flush commits the whole buffer as one synced batch: it is either fully
// durable or not written at all.
type PebbleStore struct {
	dir      string
	db       *pebble.DB
	opts     Options
	readOnly bool

	mu    sync.Mutex
	known *keys.Set
	buf   [][]byte
	seq   uint64
	stats Stats
}

var _ Cache = (*PebbleStore)(nil)

// OpenPebble opens (or creates) the database in dir.
func OpenPebble(dir string, opts Options) (*PebbleStore, error) {
	if dir == "" {
		return nil, ErrEmptyPath
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble cache %s: %w", dir, err)
	}
	return newPebbleStore(dir, db, opts, false), nil
}

// OpenPebbleReadOnly opens an existing database in dir without writing to it.
// A directory holding no database is rejected before pebble touches it.
// Append on the returned store fails with ErrReadOnly.
func OpenPebbleReadOnly(dir string, opts Options) (*PebbleStore, error) {
	if dir == "" {
		return nil, ErrEmptyPath
	}
	desc, err := pebble.Peek(dir, vfs.Default)
	if err != nil {
		return nil, fmt.Errorf("open pebble cache %s: %w", dir, err)
	}
	if !desc.Exists {
		return nil, fmt.Errorf("open pebble cache %s: %w", dir, ErrNoDatabase)
	}

	db, err := pebble.Open(dir, &pebble.Options{ReadOnly: true, ErrorIfNotExists: true})
	if err != nil {
		return nil, fmt.Errorf("open pebble cache %s: %w", dir, err)
	}
	return newPebbleStore(dir, db, opts, true), nil
}

func newPebbleStore(dir string, db *pebble.DB, opts Options, readOnly bool) *PebbleStore {
	return &PebbleStore{
		dir:      dir,
		db:       db,
		opts:     opts.withDefaults(),
		readOnly: readOnly,
		known:    keys.NewSet(),
	}
}

// Load iterates the record log and seeds the known keys.
func (s *PebbleStore) Load(ctx context.Context) (*keys.Set, error) {
	var loaded, malformed int
	last, err := s.scan(ctx, func(_ int, key keys.Key, err error) {
		if err != nil {
			malformed++
			return
		}
		if s.known.Add(key) {
			loaded++
		}
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seq = max(s.seq, last)
	s.stats.Loaded += loaded
	s.stats.Malformed += malformed
	s.mu.Unlock()

	s.opts.Metrics.CacheLoaded(loaded, malformed)
	return s.known, nil
}

// Inspect reports every record of the log, counting duplicates the way Inspect
// does for a JSONL file. Malformed entries are identified by their 1-based
// position in the log.
func (s *PebbleStore) Inspect(ctx context.Context) (*Report, error) {
	b := newReportBuilder()
	if _, err := s.scan(ctx, b.add); err != nil {
		return nil, err
	}
	return b.report(), nil
}

// scan reports the key of every record in log order and returns the last sequence number.
func (s *PebbleStore) scan(ctx context.Context, fn ScanFunc) (uint64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, ErrClosed
	}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: recordPrefix,
		UpperBound: recordEnd,
	})
	if err != nil {
		return 0, fmt.Errorf("iterate pebble cache %s: %w", s.dir, err)
	}
	defer iter.Close()

	var last uint64
	pos := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		pos++

		if seq, ok := decodeSeq(iter.Key()); ok {
			last = seq
		}

		key, err := keys.FromJSON(iter.Value(), s.opts.KeyField)
		if err != nil {
			s.opts.Logger.Warn("cache_record_malformed",
				zap.String("path", s.dir),
				zap.Binary("record", append([]byte(nil), iter.Key()...)),
				zap.Error(err),
			)
			fn(pos, "", fmt.Errorf("%w: %w", errMalformed, err))
			continue
		}
		fn(pos, key, nil)
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterate pebble cache %s: %w", s.dir, err)
	}
	return last, nil
}

// Append records result and flushes once the threshold is reached.
func (s *PebbleStore) Append(result any) error {
	raw, key, err := encodeRecord(result, s.opts.KeyField)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}

	s.known.Add(key)
	s.buf = append(s.buf, raw)
	s.stats.Appended++

	if len(s.buf) >= s.opts.FlushThreshold {
		_ = s.flushLocked()
	}
	return nil
}

// Flush commits the buffer as a single synced batch.
func (s *PebbleStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *PebbleStore) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}
	if s.db == nil {
		return ErrClosed
	}

	start := time.Now()
	batch := s.db.NewBatch()
	defer batch.Close()

	seq := s.seq
	for _, rec := range s.buf {
		seq++
		if err := batch.Set(encodeSeq(seq), rec, nil); err != nil {
			return s.flushFailed(err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return s.flushFailed(err)
	}

	n := len(s.buf)
	s.seq = seq
	s.stats.Flushed += n
	clear(s.buf)
	s.buf = s.buf[:0]

	s.opts.Metrics.CacheFlushed(n, time.Since(start))
	return nil
}

func (s *PebbleStore) flushFailed(err error) error {
	s.stats.FlushFailures++
	s.opts.Metrics.CacheFlushFailed()
	s.opts.Logger.Error("cache_flush_failed",
		zap.String("path", s.dir),
		zap.Int("buffered", len(s.buf)),
		zap.Error(err),
	)
	return fmt.Errorf("flush pebble cache %s: %w", s.dir, err)
}

// Key derives the key of an input item.
func (s *PebbleStore) Key(item any) keys.Key {
	return keys.Of(item, s.opts.KeyField)
}

// Stats returns a snapshot of the store's counters.
func (s *PebbleStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Buffered = len(s.buf)
	return st
}

// Close closes the database. Unflushed records are dropped.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close pebble cache %s: %w", s.dir, err)
	}
	return nil
}

func encodeSeq(seq uint64) []byte {
	k := make([]byte, len(recordPrefix)+8)
	copy(k, recordPrefix)
	binary.BigEndian.PutUint64(k[len(recordPrefix):], seq)
	return k
}

func decodeSeq(k []byte) (uint64, bool) {
	if len(k) != len(recordPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[len(recordPrefix):]), true
}
