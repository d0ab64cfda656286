package votekeeper

import "github.com/velabft/core/consensus"

// ThresholdEvent is implemented by each of the per-round vote
// accounting events of spec.md §4.2: quorum/skip evidence the driver
// multiplexes against stored proposals.
type ThresholdEvent interface {
	isThresholdEvent()
}

// PolkaAny reports a quorum of prevotes for a mix of values (including
// nil) in Round.
type PolkaAny struct{ Round consensus.Round }

// PolkaNil reports a quorum of prevotes for nil in Round.
type PolkaNil struct{ Round consensus.Round }

// PolkaValue reports a quorum of prevotes for a specific value in
// Round.
type PolkaValue struct {
	Round consensus.Round
	Value consensus.ValueID
}

// PrecommitAny reports a quorum of precommits for a mix of values in
// Round.
type PrecommitAny struct{ Round consensus.Round }

// PrecommitValue reports a quorum of precommits for a specific value
// in Round.
type PrecommitValue struct {
	Round consensus.Round
	Value consensus.ValueID
}

// SkipRound reports f+1 voting power observed across prevotes and
// precommits in a round higher than the caller's current round.
type SkipRound struct{ Round consensus.Round }

func (PolkaAny) isThresholdEvent()        {}
func (PolkaNil) isThresholdEvent()        {}
func (PolkaValue) isThresholdEvent()      {}
func (PrecommitAny) isThresholdEvent()    {}
func (PrecommitValue) isThresholdEvent()  {}
func (SkipRound) isThresholdEvent()       {}

// Equivocation is surfaced alongside (never instead of) a threshold
// computation when a voter signs two distinct votes for the same
// (Height implicit, Round, Type).
type Equivocation struct {
	Voter      consensus.Address
	Type       consensus.VoteType
	Round      consensus.Round
	First      consensus.Vote
	Second     consensus.Vote
}
