// Package consensus defines the data model shared by the round state
// machine, the vote keeper, and the driver: heights, rounds, values,
// validators and the signed messages that carry them between processes.
//
// Nothing in this package performs I/O. Marshaling uses
// github.com/renproject/surge so that Proposal/Vote/ValidatorSet values
// can be framed into WAL records and network messages with the same
// codec.
package consensus

import (
	"fmt"
	"io"

	"github.com/renproject/id"
	"github.com/renproject/surge"
	"golang.org/x/crypto/sha3"
)

// Height identifies a single instance of consensus. Heights are
// monotonic and independent of one another.
type Height int64

// Round identifies a round of consensus within a Height. Every Height
// starts at Round 0.
type Round int64

// InvalidHeight and InvalidRound are sentinels used where a Height or
// Round field is absent (e.g. a proposal's valid_round when there is no
// previous polka).
const (
	InvalidHeight = Height(-1)
	InvalidRound  = Round(-1)
)

// SizeHint, Marshal and Unmarshal implement surge.Marshaler /
// surge.Unmarshaler for Height.
func (h Height) SizeHint() int { return surge.SizeHint(int64(h)) }

func (h Height) Marshal(w io.Writer, m int) (int, error) {
	return surge.Marshal(w, int64(h), m)
}

func (h *Height) Unmarshal(r io.Reader, m int) (int, error) {
	return surge.Unmarshal(r, (*int64)(h), m)
}

// SizeHint, Marshal and Unmarshal implement surge.Marshaler /
// surge.Unmarshaler for Round.
func (round Round) SizeHint() int { return surge.SizeHint(int64(round)) }

func (round Round) Marshal(w io.Writer, m int) (int, error) {
	return surge.Marshal(w, int64(round), m)
}

func (round *Round) Unmarshal(r io.Reader, m int) (int, error) {
	return surge.Unmarshal(r, (*int64)(round), m)
}

// Value is an opaque application payload. The core never inspects its
// contents; it only ever compares, hashes, and forwards it.
type Value []byte

// ValueID is the short, fixed-size identifier votes actually carry.
// NilValueID is the sentinel used by prevotes/precommits "for nil".
type ValueID [32]byte

// NilValueID is the zero ValueID, used by votes that do not name a
// value ("prevote nil" / "precommit nil").
var NilValueID = ValueID{}

// IsNil reports whether id is the nil sentinel.
func (id ValueID) IsNil() bool { return id == NilValueID }

func (id ValueID) String() string {
	if id.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%x", id[:8])
}

func (id ValueID) SizeHint() int { return 32 }

func (id ValueID) Marshal(w io.Writer, m int) (int, error) {
	return surge.Marshal(w, id[:], m)
}

func (id *ValueID) Unmarshal(r io.Reader, m int) (int, error) {
	return surge.Unmarshal(r, id[:], m)
}

// ComputeValueID hashes a Value with SHA3-256, exactly as the teacher's
// block.ComputeHash hashes a Block's header/data. The driver always
// derives a proposal's id by calling this on the proposal's Value;
// there is no way to attach a precomputed id to a proposal.
func ComputeValueID(v Value) ValueID {
	return ValueID(sha3.Sum256(v))
}

// Timestamp is seconds since the Unix epoch. No message type in this
// package carries one, and the core places no constraint on it.
type Timestamp int64

func (t Timestamp) SizeHint() int { return surge.SizeHint(int64(t)) }

func (t Timestamp) Marshal(w io.Writer, m int) (int, error) {
	return surge.Marshal(w, int64(t), m)
}

func (t *Timestamp) Unmarshal(r io.Reader, m int) (int, error) {
	return surge.Unmarshal(r, (*int64)(t), m)
}

// VoteType distinguishes prevotes from precommits.
type VoteType uint8

const (
	_ VoteType = iota
	PrevoteType
	PrecommitType
)

func (t VoteType) String() string {
	switch t {
	case PrevoteType:
		return "prevote"
	case PrecommitType:
		return "precommit"
	default:
		return fmt.Sprintf("unknown-vote-type(%d)", uint8(t))
	}
}

// Step is the Process's position within a round, per spec.md §3.
type Step uint8

const (
	StepUnstarted Step = iota
	StepPropose
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepUnstarted:
		return "unstarted"
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return fmt.Sprintf("unknown-step(%d)", uint8(s))
	}
}

// TimeoutKind names the three scheduled timeouts of §4.1.
type TimeoutKind uint8

const (
	_ TimeoutKind = iota
	TimeoutPropose
	TimeoutPrevote
	TimeoutPrecommit
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutPropose:
		return "propose"
	case TimeoutPrevote:
		return "prevote"
	case TimeoutPrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("unknown-timeout(%d)", uint8(k))
	}
}

// Address identifies a validator. It is the hash of an ECDSA public
// key, exactly as the teacher's id.Signatory identifies a Replica.
type Address = id.Signatory

// Signature is produced by the Signer collaborator over a message.
type Signature = id.Signature

// PublicKey is the verification counterpart of a validator's signing
// key.
type PublicKey = id.PubKey
