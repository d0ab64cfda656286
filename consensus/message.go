package consensus

import (
	"io"

	"github.com/renproject/surge"
)

// Proposal is a proposer's offer of a Value for a given (Height,
// Round). ValidRound is InvalidRound unless the proposer is re-
// proposing a value that already has a polka from an earlier round
// (spec.md §3).
type Proposal struct {
	Height     Height
	Round      Round
	Value      Value
	ValidRound Round
}

func (p Proposal) SizeHint() int {
	return surge.SizeHint(p.Height) +
		surge.SizeHint(p.Round) +
		surge.SizeHint([]byte(p.Value)) +
		surge.SizeHint(p.ValidRound)
}

func (p Proposal) Marshal(w io.Writer, m int) (int, error) {
	m, err := surge.Marshal(w, p.Height, m)
	if err != nil {
		return m, err
	}
	if m, err = surge.Marshal(w, p.Round, m); err != nil {
		return m, err
	}
	if m, err = surge.Marshal(w, []byte(p.Value), m); err != nil {
		return m, err
	}
	return surge.Marshal(w, p.ValidRound, m)
}

func (p *Proposal) Unmarshal(r io.Reader, m int) (int, error) {
	m, err := surge.Unmarshal(r, &p.Height, m)
	if err != nil {
		return m, err
	}
	if m, err = surge.Unmarshal(r, &p.Round, m); err != nil {
		return m, err
	}
	var value []byte
	if m, err = surge.Unmarshal(r, &value, m); err != nil {
		return m, err
	}
	p.Value = Value(value)
	return surge.Unmarshal(r, &p.ValidRound, m)
}

// Equal compares two proposals by value, used by the driver to
// recognize a retransmitted proposal it has already stored.
func (p Proposal) Equal(other Proposal) bool {
	return p.Height == other.Height &&
		p.Round == other.Round &&
		p.ValidRound == other.ValidRound &&
		ComputeValueID(p.Value) == ComputeValueID(other.Value)
}

// SignedProposal is a Proposal together with the proposer's signature
// and address, as delivered across the network.
type SignedProposal struct {
	Proposal  Proposal
	Proposer  Address
	Signature Signature
}

// Vote is a prevote or precommit for a ValueID (or the nil sentinel)
// at a given (Height, Round), cast by one validator.
type Vote struct {
	Type   VoteType
	Height Height
	Round  Round
	Value  ValueID
	Voter  Address
}

func (v Vote) SizeHint() int {
	return surge.SizeHint(uint8(v.Type)) +
		surge.SizeHint(v.Height) +
		surge.SizeHint(v.Round) +
		surge.SizeHint(v.Value) +
		surge.SizeHint(v.Voter)
}

func (v Vote) Marshal(w io.Writer, m int) (int, error) {
	m, err := surge.Marshal(w, uint8(v.Type), m)
	if err != nil {
		return m, err
	}
	if m, err = surge.Marshal(w, v.Height, m); err != nil {
		return m, err
	}
	if m, err = surge.Marshal(w, v.Round, m); err != nil {
		return m, err
	}
	if m, err = surge.Marshal(w, v.Value, m); err != nil {
		return m, err
	}
	return surge.Marshal(w, v.Voter, m)
}

func (v *Vote) Unmarshal(r io.Reader, m int) (int, error) {
	var t uint8
	m, err := surge.Unmarshal(r, &t, m)
	if err != nil {
		return m, err
	}
	v.Type = VoteType(t)
	if m, err = surge.Unmarshal(r, &v.Height, m); err != nil {
		return m, err
	}
	if m, err = surge.Unmarshal(r, &v.Round, m); err != nil {
		return m, err
	}
	if m, err = surge.Unmarshal(r, &v.Value, m); err != nil {
		return m, err
	}
	return surge.Unmarshal(r, &v.Voter, m)
}

// Equal compares two votes by value, used by the vote keeper to detect
// equivocation (a second vote from the same voter, same (H,R,kind),
// for a different value).
func (v Vote) Equal(other Vote) bool {
	return v.Type == other.Type &&
		v.Height == other.Height &&
		v.Round == other.Round &&
		v.Value == other.Value &&
		v.Voter == other.Voter
}

// SignedVote is a Vote together with its signature, as delivered across
// the network.
type SignedVote struct {
	Vote      Vote
	Signature Signature
}
