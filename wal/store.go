// Package wal implements the write-ahead log of spec.md §4.4 and §6: an
// append-only, per-height record of every driver input, fsynced before
// the interpreter is allowed to act on that input's outbound effects,
// and replayed on startup to recover a process's state without
// re-deriving it from the network.
//
// It generalizes the teacher's replica.ProcessStorage (replica/replica.go),
// which saved/restored a single process.State snapshot, into an
// append-only log per spec.md's stronger requirement: every input must
// be durable, not just the state it produced, so that a crash between
// "decided to precommit" and "broadcast the precommit" cannot silently
// lose the decision.
package wal

import "github.com/velabft/core/driver"

// Height is re-exported for callers that only import wal, matching the
// teacher's habit of keeping storage packages free of a direct
// dependency on the process package's types where possible. It is an
// alias of int64, not of consensus.Height, so callers holding a
// consensus.Height convert it with wal.Height(h).
type Height = int64

// Store is the persistence contract a WAL implementation must satisfy.
// Append must not return until entry is durable (fsynced); this is the
// property spec.md §4.4 depends on for the "persist before broadcast"
// ordering rule.
type Store interface {
	// Append durably records entry as the next WAL entry for height.
	Append(height Height, entry driver.WALEntry) error

	// Load returns every entry recorded for height, in append order,
	// for replay after a restart. A record that the log was cut off
	// mid-write (a torn write from a crash) is the last entry in the
	// returned slice being silently dropped rather than returned as an
	// error.
	Load(height Height) ([]driver.WALEntry, error)

	// TruncateBelow discards every entry for heights < height. Called
	// once a height decides and its successor's StartHeight has been
	// durably recorded, per spec.md §6 ("Persistence may be truncated
	// once H's decision is durable and H+1 has started").
	TruncateBelow(height Height) error

	// Close releases any held resources.
	Close() error
}
