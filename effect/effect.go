// Package effect defines the contract between the core and the
// surrounding effect interpreter (spec.md §4.4 and §6): the collaborator
// interfaces the core depends on (Signer, ProposerSelector,
// ValueProvider, ValueValidator, Timer, Broadcaster,
// ValidatorSetProvider) and the concrete Effect values the driver yields
// for the interpreter to execute.
//
// This package holds no logic and performs no I/O; it is the seam
// between the pure core (consensus/rsm/votekeeper/driver) and whatever
// wires up real signing, networking, timers and storage, grounded in
// the teacher's proc.go collaborator interfaces (Scheduler, Proposer,
// Timer, Broadcaster, Validator, Committer, Catcher) renamed to match
// spec.md §6's vocabulary.
package effect

import (
	"time"

	"github.com/velabft/core/consensus"
)

// Signer produces signatures over votes and proposals this process
// constructs. It must never be asked to sign a message this process did
// not itself build (P7, "no forgery").
type Signer interface {
	SignVote(consensus.Vote) (consensus.SignedVote, error)
	SignProposal(consensus.Proposal) (consensus.SignedProposal, error)
}

// ProposerSelector picks proposer(validatorSet, H, R). Implementations
// must be pure functions of their arguments so that every honest
// process agrees, mirroring the teacher's replica.roundRobinScheduler.
type ProposerSelector interface {
	Proposer(vs consensus.ValidatorSet, h consensus.Height, r consensus.Round) consensus.Address
}

// ValueProvider is asked, via the RequestValue effect, to eventually
// deliver at most one value for (H, R) as a ProposeValue driver input.
// It may respond after deadline; the driver tolerates that via
// TimeoutPropose.
type ValueProvider interface {
	RequestValue(h consensus.Height, r consensus.Round, deadline time.Time)
}

// ValueValidator is asked to validate a value seen in a proposal. Its
// result is delivered later as a ProposedValue driver input, not
// returned synchronously — validation is opaque and may be slow
// (spec.md Non-goals: the core does not know what a Value means).
type ValueValidator interface {
	ValidateValue(h consensus.Height, r consensus.Round, v consensus.Value)
}

// Timer schedules and cancels the three timeout kinds of spec.md §4.1.
// It must eventually deliver a TimeoutElapsed driver input for every
// scheduled timeout that is not canceled first.
type Timer interface {
	ScheduleTimeout(kind consensus.TimeoutKind, h consensus.Height, r consensus.Round, d time.Duration)
	CancelTimeout(kind consensus.TimeoutKind, h consensus.Height, r consensus.Round)
}

// Broadcaster delivers a signed message to the network, including back
// to this process. At-least-once delivery is assumed; duplicates are
// the driver's problem, not the Broadcaster's.
type Broadcaster interface {
	BroadcastProposal(consensus.SignedProposal)
	BroadcastVote(consensus.SignedVote)
}

// ValidatorSetProvider resolves the ValidatorSet for a height, consulted
// only at StartHeight (spec.md §4.3: "the driver does not consult it
// until StartHeight(H+1)").
type ValidatorSetProvider interface {
	GetValidatorSet(h consensus.Height) (consensus.ValidatorSet, error)
}

// Effect is implemented by every value the driver yields for the
// interpreter to execute. The driver never executes an Effect itself;
// it only constructs and returns them (spec.md §5: "the core yields
// only at stable states").
type Effect interface {
	isEffect()
}

// BroadcastProposal asks the interpreter to sign and broadcast a
// proposal this process is making.
type BroadcastProposal struct {
	Proposal consensus.Proposal
}

// BroadcastVote asks the interpreter to sign and broadcast a prevote or
// precommit this process is casting.
type BroadcastVote struct {
	Vote consensus.Vote
}

// ScheduleTimeout asks the interpreter to arrange a TimeoutElapsed
// driver input after Duration, unless canceled first.
type ScheduleTimeout struct {
	Kind     consensus.TimeoutKind
	Height   consensus.Height
	Round    consensus.Round
	Duration time.Duration
}

// CancelTimeout asks the interpreter to suppress a previously scheduled
// timeout; idempotent (spec.md §5).
type CancelTimeout struct {
	Kind   consensus.TimeoutKind
	Height consensus.Height
	Round  consensus.Round
}

// RequestValue asks the interpreter's ValueProvider for a value to
// propose. The result arrives later as a ProposeValue driver input.
type RequestValue struct {
	Height   consensus.Height
	Round    consensus.Round
	Deadline time.Time
}

// Decide asks the interpreter to commit Value as Height's outcome,
// carrying the quorum of precommits that justified it (Glossary:
// "Decide ... produces a Decide effect carrying the proposal and the
// set of precommits that formed the quorum").
type Decide struct {
	Height     consensus.Height
	Round      consensus.Round
	Value      consensus.Value
	Precommits []consensus.Vote
}

func (BroadcastProposal) isEffect() {}
func (BroadcastVote) isEffect()     {}
func (ScheduleTimeout) isEffect()   {}
func (CancelTimeout) isEffect()     {}
func (RequestValue) isEffect()      {}
func (Decide) isEffect()            {}
