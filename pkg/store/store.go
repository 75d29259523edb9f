package store

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFlushInterval is the write-coalescing window. All puts inside one
// window produce exactly one disk write.
const DefaultFlushInterval = 500 * time.Millisecond

// ErrClosed indicates that the store has been shut down.
var ErrClosed = errors.New("store is closed")

// Store is a durable, write-coalescing set of named JSON documents backed
// by a single file.
//
// Writes are write-behind: Put updates an in-memory cache and marks it
// dirty; a timer schedules one coalesced disk write per flush window
// regardless of how many puts occur. Flush forces an immediate write and
// cancels the pending timer.
//
// All disk writes are serialized through a single flusher goroutine, so a
// put that lands during an in-flight write is never dropped: it re-marks
// the cache dirty and is picked up by the next flush.
//
// The on-disk representation reflects whichever puts occurred before the
// most recent flush; it may lag the cache by up to the flush interval
// unless Flush or Shutdown is called.
type Store struct {
	path          string
	flushInterval time.Duration
	logger        *log.Logger

	mu     sync.Mutex
	docs   map[string]json.RawMessage
	dirty  bool
	timer  *time.Timer
	closed bool

	flushCh chan chan error
	quit    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithFlushInterval sets the write-coalescing window (default 500ms).
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithLogger sets the logger used for recovery and write-failure events.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens (or creates) the store backed by the file at path.
//
// Startup behavior:
//   - A readable primary file is loaded as-is.
//   - A missing or empty primary falls back to the ".bak" sibling.
//   - When the primary is corrupt but the backup parses, the store recovers
//     from the backup, logs the recovery, and rewrites the primary.
//   - When both are unusable, the store initializes empty and writes itself
//     out immediately.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:          path,
		flushInterval: DefaultFlushInterval,
		logger:        log.Default(),
		docs:          make(map[string]json.RawMessage),
		flushCh:       make(chan chan error),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	recovered, err := LoadJSON(path, &s.docs)
	switch {
	case err == nil && recovered:
		s.logger.Printf("[store] recovered %s from backup, rewriting primary", filepath.Base(path))
		data, mErr := json.MarshalIndent(s.docs, "", "  ")
		if mErr != nil {
			return nil, mErr
		}
		if wErr := WriteAtomic(path, data); wErr != nil {
			return nil, wErr
		}
	case err == nil:
		// Loaded cleanly.
	case errors.Is(err, os.ErrNotExist):
		s.docs = make(map[string]json.RawMessage)
		if wErr := s.writeInitial(); wErr != nil {
			return nil, wErr
		}
	default:
		s.logger.Printf("[store] %s unusable (primary and backup), reinitializing empty: %v", filepath.Base(path), err)
		s.docs = make(map[string]json.RawMessage)
		if wErr := s.writeInitial(); wErr != nil {
			return nil, wErr
		}
	}

	go s.run()
	return s, nil
}

// Path returns the primary file path.
func (s *Store) Path() string {
	return s.path
}

// Put stores value under key in the in-memory cache and schedules a
// coalesced flush. The value is serialized to JSON immediately, so later
// mutation of the passed object does not affect the stored document.
func (s *Store) Put(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.docs[key] = raw
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.flushInterval, s.timerFired)
	}
	return nil
}

// Get unmarshals the document stored under key into v.
// Returns false when the key is absent.
func (s *Store) Get(key string, v interface{}) (bool, error) {
	s.mu.Lock()
	raw, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Flush forces an immediate disk write covering every put made so far and
// cancels the pending timer. It blocks until the write completes.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	ack := make(chan error, 1)
	select {
	case s.flushCh <- ack:
		return <-ack
	case <-s.done:
		return ErrClosed
	}
}

// Shutdown flushes pending writes and stops the flusher goroutine.
// The store rejects further puts afterwards.
func (s *Store) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Flush()

		s.mu.Lock()
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()

		close(s.quit)
		<-s.done
	})
	return err
}

// run is the single-writer flusher. Every disk write goes through this
// goroutine, serializing flush-on-timer and flush-on-demand requests.
func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case ack := <-s.flushCh:
			err := s.writeOut()
			if ack != nil {
				ack <- err
			}
		case <-s.quit:
			return
		}
	}
}

// timerFired converts an expired coalescing timer into a flush request.
func (s *Store) timerFired() {
	s.mu.Lock()
	s.timer = nil
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.flushCh <- nil:
	case <-s.done:
	}
}

// writeOut snapshots the cache and writes it atomically. A clean cache is
// a no-op. On write failure the cache is re-marked dirty so the data is
// retried on the next flush.
func (s *Store) writeOut() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.dirty = false
	s.mu.Unlock()

	if err := WriteAtomic(s.path, data); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.logger.Printf("[store] write %s failed: %v", filepath.Base(s.path), err)
		return err
	}
	return nil
}

// writeInitial writes the current (empty) document set without going
// through the flusher, used during Open before the goroutine starts.
func (s *Store) writeInitial() error {
	data, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return err
	}
	return WriteAtomic(s.path, data)
}
