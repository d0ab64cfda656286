package rsm

import "github.com/velabft/core/consensus"

// Output is implemented by a single effect request a transition can
// yield. Apply returns a slice of these: most transition table rows of
// spec.md §4.1 yield at most one, but entering a round as the proposer
// with no valid value yields two (RequestValue and Schedule(Propose),
// per spec.md §4.1's "unstarted | NewRound(proposer=self) | VV=None"
// row and §5's liveness requirement that a slow ValueProvider must not
// stall the round forever).
type Output interface {
	isOutput()
}

// StartNewRound asks the driver to begin round Round (on timeout or
// skip evidence).
type StartNewRound struct {
	Round consensus.Round
}

// BroadcastProposal asks the driver to sign and broadcast a proposal.
type BroadcastProposal struct {
	Value      consensus.Value
	ValidRound consensus.Round
}

// BroadcastVote asks the driver to sign and broadcast a prevote or
// precommit. A nil Value (consensus.NilValueID) means "vote for nil".
type BroadcastVote struct {
	Type  consensus.VoteType
	Value consensus.ValueID
}

// ScheduleTimeoutOutput asks the driver to schedule a timeout for the
// current round.
type ScheduleTimeoutOutput struct {
	Kind consensus.TimeoutKind
}

// RequestValueOutput asks the driver to request a value to propose.
type RequestValueOutput struct{}

// Decide is produced exactly once per height: the value and the round
// in which its decisive polka/precommit quorum was observed.
type Decide struct {
	Value consensus.Value
	Round consensus.Round
}

func (StartNewRound) isOutput()         {}
func (BroadcastProposal) isOutput()     {}
func (BroadcastVote) isOutput()         {}
func (ScheduleTimeoutOutput) isOutput() {}
func (RequestValueOutput) isOutput()    {}
func (Decide) isOutput()                {}
