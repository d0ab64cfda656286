package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/velabft/core/driver"
)

// PebbleStore is a WAL backed by github.com/cockroachdb/pebble, an
// alternative to FileStore for deployments that already run pebble for
// other storage (the example pack's echenim-Bedrock uses it as its
// primary KV engine; this package reuses it for the WAL rather than
// introducing a second storage dependency). Records are keyed by
// (height, sequence) so a height's entries iterate back out in append
// order.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
	// seq tracks the next sequence number to assign per height, since
	// pebble itself has no auto-increment counter.
	seq map[Height]uint64
}

// NewPebbleStore opens (creating if necessary) a pebble database at dir.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("wal: open pebble: %w", err)
	}
	store := &PebbleStore{db: db, seq: map[Height]uint64{}}
	if err := store.recoverSequences(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PebbleStore) recoverSequences() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		h, seq, err := decodeKey(iter.Key())
		if err != nil {
			continue
		}
		if seq+1 > s.seq[h] {
			s.seq[h] = seq + 1
		}
	}
	return nil
}

func encodeKey(height Height, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(height))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func decodeKey(key []byte) (Height, uint64, error) {
	if len(key) != 16 {
		return 0, 0, fmt.Errorf("wal: malformed key")
	}
	return Height(binary.BigEndian.Uint64(key[:8])), binary.BigEndian.Uint64(key[8:]), nil
}

// Append implements Store.
func (s *PebbleStore) Append(height Height, entry driver.WALEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if _, err := entry.Marshal(&buf, entry.SizeHint()); err != nil {
		return fmt.Errorf("wal: marshal entry: %w", err)
	}

	seq := s.seq[height]
	key := encodeKey(height, seq)
	if err := s.db.Set(key, buf.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("wal: pebble set: %w", err)
	}
	s.seq[height] = seq + 1
	return nil
}

// Load implements Store.
func (s *PebbleStore) Load(height Height) ([]driver.WALEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := encodeKey(height, 0)
	upper := encodeKey(height, ^uint64(0))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("wal: pebble iter: %w", err)
	}
	defer iter.Close()

	var entries []driver.WALEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var entry driver.WALEntry
		if _, err := entry.Unmarshal(bytes.NewReader(iter.Value()), len(iter.Value())); err != nil {
			return entries, fmt.Errorf("wal: unmarshal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, iter.Error()
}

// TruncateBelow implements Store by deleting every key for heights <
// height in a single bounded range delete.
func (s *PebbleStore) TruncateBelow(height Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height <= 0 {
		return nil
	}
	lower := encodeKey(0, 0)
	upper := encodeKey(height, 0)
	if err := s.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return fmt.Errorf("wal: pebble delete range: %w", err)
	}
	for h := range s.seq {
		if h < height {
			delete(s.seq, h)
		}
	}
	return nil
}

// Close implements Store.
func (s *PebbleStore) Close() error { return s.db.Close() }
