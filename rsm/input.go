package rsm

import "github.com/velabft/core/consensus"

// Input is implemented by every event the driver can feed to the round
// state machine, named after the pseudo-code clauses of spec.md §4.1.
type Input interface {
	isInput()
}

// NewRound is the initial entry to a round, distinguishing whether this
// process is the round's proposer.
type NewRound struct {
	IsProposer bool
}

// ProposeValue is the proposer's locally obtained value, possibly
// delivered asynchronously after RequestValue.
type ProposeValue struct {
	Value consensus.Value
}

// Proposal is a received proposal together with its application-
// determined validity. ValidRound is InvalidRound for a fresh proposal.
type Proposal struct {
	Value      consensus.Value
	ValidRound consensus.Round
	Valid      bool
}

// ProposalAndPolkaPrevious combines a proposal whose ValidRound is
// >= 0 and < the current round with an observed quorum of prevotes for
// id(Value) in that earlier round.
type ProposalAndPolkaPrevious struct {
	Value      consensus.Value
	ValidRound consensus.Round
	Valid      bool
}

// ProposalAndPolkaCurrent combines a proposal with a quorum of
// prevotes for id(Value) in the current round.
type ProposalAndPolkaCurrent struct {
	Value consensus.Value
}

// ProposalAndPrecommitValue combines a proposal for round Round with a
// quorum of precommits for id(Value) in that round. Triggers a
// decision regardless of the process's current round.
type ProposalAndPrecommitValue struct {
	Value consensus.Value
	Round consensus.Round
}

// PolkaAny is a vote-keeper threshold: quorum of prevotes for a mix of
// values (including nil) in the current round.
type PolkaAny struct{}

// PolkaNil is a vote-keeper threshold: quorum of prevotes for nil in
// the current round.
type PolkaNil struct{}

// PolkaValue is a vote-keeper threshold: quorum of prevotes for a
// specific value, reported to the driver for multiplexing against
// stored proposals. It never fires a table row by itself.
type PolkaValue struct {
	Value consensus.ValueID
	Round consensus.Round
}

// PrecommitAny is a vote-keeper threshold: quorum of precommits for a
// mix of values in the current round.
type PrecommitAny struct{}

// SkipRound is f+1 voting power observed in a higher round, justifying
// an unconditional jump.
type SkipRound struct {
	Round consensus.Round
}

// TimeoutPropose, TimeoutPrevote and TimeoutPrecommit are scheduled
// timeout expirations for the current round.
type TimeoutPropose struct{}
type TimeoutPrevote struct{}
type TimeoutPrecommit struct{}

func (NewRound) isInput()                  {}
func (ProposeValue) isInput()               {}
func (Proposal) isInput()                   {}
func (ProposalAndPolkaPrevious) isInput()   {}
func (ProposalAndPolkaCurrent) isInput()    {}
func (ProposalAndPrecommitValue) isInput()  {}
func (PolkaAny) isInput()                   {}
func (PolkaNil) isInput()                   {}
func (PolkaValue) isInput()                 {}
func (PrecommitAny) isInput()               {}
func (SkipRound) isInput()                  {}
func (TimeoutPropose) isInput()             {}
func (TimeoutPrevote) isInput()             {}
func (TimeoutPrecommit) isInput()           {}
