// Package mocks provides hand-written test doubles for the
// collaborator interfaces in package effect, grounded in the style of
// luxfi-consensus's *mock packages (e.g.
// engine/chain/block/blockmock.ChainVM): a struct per interface and a
// zero value that is always safe to use directly. Signer, ValueProvider
// and ValueValidator have one `XxxF func(...)` field per method to
// override and a `CantXxx bool` flag that fails the test (when T is
// set) if the method is called with no override set. ProposerSelector
// has an override field but no such flag; Timer, Broadcaster and
// ValidatorSetProvider have neither and only record calls or serve
// fixed values.
package mocks

import (
	"testing"
	"time"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
)

var (
	_ effect.Signer               = (*Signer)(nil)
	_ effect.ProposerSelector     = (*ProposerSelector)(nil)
	_ effect.ValueProvider        = (*ValueProvider)(nil)
	_ effect.ValueValidator       = (*ValueValidator)(nil)
	_ effect.Timer                = (*Timer)(nil)
	_ effect.Broadcaster          = (*Broadcaster)(nil)
	_ effect.ValidatorSetProvider = (*ValidatorSetProvider)(nil)
)

// Signer mocks effect.Signer.
type Signer struct {
	T                 *testing.T
	CantSignVote      bool
	CantSignProposal  bool
	SignVoteF         func(consensus.Vote) (consensus.SignedVote, error)
	SignProposalF     func(consensus.Proposal) (consensus.SignedProposal, error)
}

func (s *Signer) SignVote(v consensus.Vote) (consensus.SignedVote, error) {
	if s.SignVoteF != nil {
		return s.SignVoteF(v)
	}
	if s.CantSignVote && s.T != nil {
		s.T.Fatal("unexpected SignVote")
	}
	return consensus.SignedVote{Vote: v}, nil
}

func (s *Signer) SignProposal(p consensus.Proposal) (consensus.SignedProposal, error) {
	if s.SignProposalF != nil {
		return s.SignProposalF(p)
	}
	if s.CantSignProposal && s.T != nil {
		s.T.Fatal("unexpected SignProposal")
	}
	return consensus.SignedProposal{Proposal: p}, nil
}

// ProposerSelector mocks effect.ProposerSelector. Addr, when set, is
// returned unconditionally; ProposerF overrides it entirely.
type ProposerSelector struct {
	Addr      consensus.Address
	ProposerF func(consensus.ValidatorSet, consensus.Height, consensus.Round) consensus.Address
}

func (p *ProposerSelector) Proposer(vs consensus.ValidatorSet, h consensus.Height, r consensus.Round) consensus.Address {
	if p.ProposerF != nil {
		return p.ProposerF(vs, h, r)
	}
	return p.Addr
}

// ValueProvider mocks effect.ValueProvider, recording every request it
// receives so a test can assert on them.
type ValueProvider struct {
	T                *testing.T
	CantRequestValue bool
	RequestValueF    func(consensus.Height, consensus.Round, time.Time)
	Requests         []ValueRequest
}

// ValueRequest is one recorded call to RequestValue.
type ValueRequest struct {
	Height   consensus.Height
	Round    consensus.Round
	Deadline time.Time
}

func (v *ValueProvider) RequestValue(h consensus.Height, r consensus.Round, deadline time.Time) {
	v.Requests = append(v.Requests, ValueRequest{Height: h, Round: r, Deadline: deadline})
	if v.RequestValueF != nil {
		v.RequestValueF(h, r, deadline)
		return
	}
	if v.CantRequestValue && v.T != nil {
		v.T.Fatal("unexpected RequestValue")
	}
}

// ValueValidator mocks effect.ValueValidator, recording every value it
// is asked to validate.
type ValueValidator struct {
	T                  *testing.T
	CantValidateValue  bool
	ValidateValueF     func(consensus.Height, consensus.Round, consensus.Value)
	Requests           []ValidateRequest
}

// ValidateRequest is one recorded call to ValidateValue.
type ValidateRequest struct {
	Height consensus.Height
	Round  consensus.Round
	Value  consensus.Value
}

func (v *ValueValidator) ValidateValue(h consensus.Height, r consensus.Round, value consensus.Value) {
	v.Requests = append(v.Requests, ValidateRequest{Height: h, Round: r, Value: value})
	if v.ValidateValueF != nil {
		v.ValidateValueF(h, r, value)
		return
	}
	if v.CantValidateValue && v.T != nil {
		v.T.Fatal("unexpected ValidateValue")
	}
}

// ScheduledTimeout is one recorded call to Timer.ScheduleTimeout.
type ScheduledTimeout struct {
	Kind     consensus.TimeoutKind
	Height   consensus.Height
	Round    consensus.Round
	Duration time.Duration
}

// CanceledTimeout is one recorded call to Timer.CancelTimeout.
type CanceledTimeout struct {
	Kind   consensus.TimeoutKind
	Height consensus.Height
	Round  consensus.Round
}

// Timer mocks effect.Timer, recording every schedule/cancel call
// instead of actually firing anything — tests drive HandleTimeoutElapsed
// explicitly rather than waiting on a real clock.
type Timer struct {
	Scheduled []ScheduledTimeout
	Canceled  []CanceledTimeout
}

func (t *Timer) ScheduleTimeout(kind consensus.TimeoutKind, h consensus.Height, r consensus.Round, d time.Duration) {
	t.Scheduled = append(t.Scheduled, ScheduledTimeout{Kind: kind, Height: h, Round: r, Duration: d})
}

func (t *Timer) CancelTimeout(kind consensus.TimeoutKind, h consensus.Height, r consensus.Round) {
	t.Canceled = append(t.Canceled, CanceledTimeout{Kind: kind, Height: h, Round: r})
}

// Broadcaster mocks effect.Broadcaster, recording every message handed
// to it instead of sending anything over a network.
type Broadcaster struct {
	Proposals []consensus.SignedProposal
	Votes     []consensus.SignedVote
}

func (b *Broadcaster) BroadcastProposal(sp consensus.SignedProposal) {
	b.Proposals = append(b.Proposals, sp)
}

func (b *Broadcaster) BroadcastVote(sv consensus.SignedVote) {
	b.Votes = append(b.Votes, sv)
}

// ValidatorSetProvider mocks effect.ValidatorSetProvider, serving a
// fixed ValidatorSet for every height unless Sets names one
// specifically.
type ValidatorSetProvider struct {
	Default consensus.ValidatorSet
	Sets    map[consensus.Height]consensus.ValidatorSet
	Err     error
}

func (v *ValidatorSetProvider) GetValidatorSet(h consensus.Height) (consensus.ValidatorSet, error) {
	if v.Err != nil {
		return consensus.ValidatorSet{}, v.Err
	}
	if vs, ok := v.Sets[h]; ok {
		return vs, nil
	}
	return v.Default, nil
}
