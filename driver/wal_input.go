package driver

import (
	"fmt"
	"io"

	"github.com/renproject/surge"

	"github.com/velabft/core/consensus"
)

// InputKind tags which driver input a WALEntry carries, mirroring the
// teacher's process.MessageType tag in replica.Message.Marshal
// (replica/marshal.go).
type InputKind uint8

const (
	_ InputKind = iota
	KindStartHeight
	KindProposal
	KindVote
	KindProposedValue
	KindProposeValue
	KindTimeoutElapsed
)

// WALEntry is the envelope the write-ahead log persists for every
// driver input, per spec.md §6 ("Inputs persisted: consensus messages,
// TimeoutElapsed, ProposeValue, ProposedValue. StartHeight acts as a
// checkpoint."). Exactly one payload field is populated, selected by
// Kind.
type WALEntry struct {
	Kind InputKind

	StartHeight   *StartHeightPayload
	Proposal      *consensus.SignedProposal
	Vote          *consensus.SignedVote
	ProposedValue *ProposedValuePayload
	ProposeValue  *ProposeValuePayload
	TimeoutElapsed *TimeoutElapsedPayload
}

// StartHeightPayload snapshots the arguments of a StartHeight call,
// acting as a checkpoint: replay never needs to look further back than
// the most recent StartHeight entry for a height.
type StartHeightPayload struct {
	Height     consensus.Height
	Validators consensus.ValidatorSet
}

// ProposedValuePayload snapshots a ValueValidator verdict.
type ProposedValuePayload struct {
	Height consensus.Height
	Round  consensus.Round
	Value  consensus.Value
	Valid  bool
}

// ProposeValuePayload snapshots a ValueProvider's response.
type ProposeValuePayload struct {
	Height consensus.Height
	Round  consensus.Round
	Value  consensus.Value
}

// TimeoutElapsedPayload snapshots a fired timeout.
type TimeoutElapsedPayload struct {
	Kind   consensus.TimeoutKind
	Height consensus.Height
	Round  consensus.Round
}

func (e WALEntry) SizeHint() int {
	size := surge.SizeHint(uint8(e.Kind))
	switch e.Kind {
	case KindStartHeight:
		size += surge.SizeHint(e.StartHeight.Height) + e.StartHeight.Validators.SizeHint()
	case KindProposal:
		size += e.Proposal.Proposal.SizeHint() + surge.SizeHint(e.Proposal.Proposer) + surge.SizeHint(e.Proposal.Signature)
	case KindVote:
		size += e.Vote.Vote.SizeHint() + surge.SizeHint(e.Vote.Signature)
	case KindProposedValue:
		size += surge.SizeHint(e.ProposedValue.Height) + surge.SizeHint(e.ProposedValue.Round) +
			surge.SizeHint([]byte(e.ProposedValue.Value)) + surge.SizeHint(e.ProposedValue.Valid)
	case KindProposeValue:
		size += surge.SizeHint(e.ProposeValue.Height) + surge.SizeHint(e.ProposeValue.Round) +
			surge.SizeHint([]byte(e.ProposeValue.Value))
	case KindTimeoutElapsed:
		size += surge.SizeHint(uint8(e.TimeoutElapsed.Kind)) + surge.SizeHint(e.TimeoutElapsed.Height) + surge.SizeHint(e.TimeoutElapsed.Round)
	}
	return size
}

func (e WALEntry) Marshal(w io.Writer, m int) (int, error) {
	m, err := surge.Marshal(w, uint8(e.Kind), m)
	if err != nil {
		return m, err
	}
	switch e.Kind {
	case KindStartHeight:
		if m, err = surge.Marshal(w, e.StartHeight.Height, m); err != nil {
			return m, err
		}
		return e.StartHeight.Validators.Marshal(w, m)
	case KindProposal:
		if m, err = e.Proposal.Proposal.Marshal(w, m); err != nil {
			return m, err
		}
		if m, err = surge.Marshal(w, e.Proposal.Proposer, m); err != nil {
			return m, err
		}
		return surge.Marshal(w, e.Proposal.Signature, m)
	case KindVote:
		if m, err = e.Vote.Vote.Marshal(w, m); err != nil {
			return m, err
		}
		return surge.Marshal(w, e.Vote.Signature, m)
	case KindProposedValue:
		if m, err = surge.Marshal(w, e.ProposedValue.Height, m); err != nil {
			return m, err
		}
		if m, err = surge.Marshal(w, e.ProposedValue.Round, m); err != nil {
			return m, err
		}
		if m, err = surge.Marshal(w, []byte(e.ProposedValue.Value), m); err != nil {
			return m, err
		}
		return surge.Marshal(w, e.ProposedValue.Valid, m)
	case KindProposeValue:
		if m, err = surge.Marshal(w, e.ProposeValue.Height, m); err != nil {
			return m, err
		}
		if m, err = surge.Marshal(w, e.ProposeValue.Round, m); err != nil {
			return m, err
		}
		return surge.Marshal(w, []byte(e.ProposeValue.Value), m)
	case KindTimeoutElapsed:
		if m, err = surge.Marshal(w, uint8(e.TimeoutElapsed.Kind), m); err != nil {
			return m, err
		}
		if m, err = surge.Marshal(w, e.TimeoutElapsed.Height, m); err != nil {
			return m, err
		}
		return surge.Marshal(w, e.TimeoutElapsed.Round, m)
	default:
		return m, fmt.Errorf("wal: unknown entry kind %d", e.Kind)
	}
}

func (e *WALEntry) Unmarshal(r io.Reader, m int) (int, error) {
	var kind uint8
	m, err := surge.Unmarshal(r, &kind, m)
	if err != nil {
		return m, err
	}
	e.Kind = InputKind(kind)
	switch e.Kind {
	case KindStartHeight:
		p := &StartHeightPayload{}
		if m, err = surge.Unmarshal(r, &p.Height, m); err != nil {
			return m, err
		}
		if m, err = p.Validators.Unmarshal(r, m); err != nil {
			return m, err
		}
		e.StartHeight = p
	case KindProposal:
		p := &consensus.SignedProposal{}
		if m, err = p.Proposal.Unmarshal(r, m); err != nil {
			return m, err
		}
		if m, err = surge.Unmarshal(r, &p.Proposer, m); err != nil {
			return m, err
		}
		if m, err = surge.Unmarshal(r, &p.Signature, m); err != nil {
			return m, err
		}
		e.Proposal = p
	case KindVote:
		p := &consensus.SignedVote{}
		if m, err = p.Vote.Unmarshal(r, m); err != nil {
			return m, err
		}
		if m, err = surge.Unmarshal(r, &p.Signature, m); err != nil {
			return m, err
		}
		e.Vote = p
	case KindProposedValue:
		p := &ProposedValuePayload{}
		if m, err = surge.Unmarshal(r, &p.Height, m); err != nil {
			return m, err
		}
		if m, err = surge.Unmarshal(r, &p.Round, m); err != nil {
			return m, err
		}
		var value []byte
		if m, err = surge.Unmarshal(r, &value, m); err != nil {
			return m, err
		}
		p.Value = consensus.Value(value)
		if m, err = surge.Unmarshal(r, &p.Valid, m); err != nil {
			return m, err
		}
		e.ProposedValue = p
	case KindProposeValue:
		p := &ProposeValuePayload{}
		if m, err = surge.Unmarshal(r, &p.Height, m); err != nil {
			return m, err
		}
		if m, err = surge.Unmarshal(r, &p.Round, m); err != nil {
			return m, err
		}
		var value []byte
		if m, err = surge.Unmarshal(r, &value, m); err != nil {
			return m, err
		}
		p.Value = consensus.Value(value)
		e.ProposeValue = p
	case KindTimeoutElapsed:
		p := &TimeoutElapsedPayload{}
		var kind uint8
		if m, err = surge.Unmarshal(r, &kind, m); err != nil {
			return m, err
		}
		p.Kind = consensus.TimeoutKind(kind)
		if m, err = surge.Unmarshal(r, &p.Height, m); err != nil {
			return m, err
		}
		if m, err = surge.Unmarshal(r, &p.Round, m); err != nil {
			return m, err
		}
		e.TimeoutElapsed = p
	default:
		return m, fmt.Errorf("wal: unknown entry kind %d", e.Kind)
	}
	return m, nil
}
