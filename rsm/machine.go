package rsm

import "github.com/velabft/core/consensus"

// Machine wraps a RoundState and applies Inputs to it per the
// transition table of spec.md §4.1. A Machine is owned exclusively by
// one driver.Driver; it is never shared.
type Machine struct {
	state RoundState
}

// NewMachine returns a Machine starting in the unstarted step of round
// 0, mirroring the teacher's DefaultState.
func NewMachine() *Machine {
	s := NewRoundState()
	return &Machine{state: s}
}

// State returns a copy of the current RoundState, for inspection or
// persistence by the driver.
func (m *Machine) State() RoundState { return m.state }

// Restore replaces the Machine's state wholesale. WAL replay does not
// use it (driver.Replay re-applies the logged inputs one by one); it
// lets a caller start the Machine from an arbitrary state.
func (m *Machine) Restore(s RoundState) { m.state = s }

// EnterRound resets per-round bookkeeping and sets the round to round,
// matching the teacher's StartRound resetting currentRound/currentStep
// before any guard is tried.
func (m *Machine) EnterRound(round consensus.Round) {
	m.state.Round = round
	m.state.Step = consensus.StepPropose
	m.state.fired = 0
}

// Apply feeds a single Input to the Machine and returns the Outputs the
// transition table's highest-priority matching row produces, or nil if
// no row applies (a legitimate no-op: duplicate thresholds, stale
// inputs, and inputs that simply don't change anything at the current
// step all fall through silently rather than erroring). Every row
// yields at most one Output except entering a round as the proposer
// with no valid value, which yields two (see Output's doc comment).
//
// Each Input type selects exactly one handler, so the order of the
// switch cases below carries no priority. The priority among
// simultaneously satisfiable rows (decision first, then the propose
// step's proposal rows, then the current-round polka) is realized by
// the order in which driver.runMultiplexer derives and applies Inputs.
func (m *Machine) Apply(in Input) ([]Output, error) {
	switch input := in.(type) {

	case NewRound:
		return m.onNewRound(input)

	case ProposeValue:
		return m.onProposeValue(input)

	case Proposal:
		return m.onProposal(input)

	case ProposalAndPolkaPrevious:
		return m.onProposalAndPolkaPrevious(input)

	case ProposalAndPolkaCurrent:
		return m.onProposalAndPolkaCurrent(input)

	case ProposalAndPrecommitValue:
		// Decision always takes priority: it can fire from any
		// in-progress step, and once fired the driver tears down the
		// height, so there is nothing left to order it against.
		m.state.Step = consensus.StepCommit
		return one(Decide{Value: input.Value, Round: input.Round}), nil

	case PolkaValue:
		// Reported for the driver's multiplexer to combine with a
		// stored proposal; alone it fires no table row.
		return nil, nil

	case PolkaNil:
		return m.onPolkaNil(input)

	case PolkaAny:
		return m.onPolkaAny(input)

	case PrecommitAny:
		return m.onPrecommitAny(input)

	case SkipRound:
		if input.Round <= m.state.Round {
			return nil, nil
		}
		return one(StartNewRound{Round: input.Round}), nil

	case TimeoutPropose:
		return m.onTimeoutPropose(input)

	case TimeoutPrevote:
		return m.onTimeoutPrevote(input)

	case TimeoutPrecommit:
		return m.onTimeoutPrecommit(input)

	default:
		return nil, &consensus.InvariantViolationError{Reason: "rsm: unrecognised input type"}
	}
}

// one wraps a single Output in the slice Apply's callers expect.
func one(o Output) []Output { return []Output{o} }

func (m *Machine) onNewRound(in NewRound) ([]Output, error) {
	if m.state.Step != consensus.StepPropose {
		return nil, &consensus.InvariantViolationError{Reason: "rsm: NewRound delivered outside a freshly entered round"}
	}
	if !in.IsProposer {
		return one(ScheduleTimeoutOutput{Kind: consensus.TimeoutPropose}), nil
	}
	if m.state.ValidValue != nil {
		return one(BroadcastProposal{Value: m.state.ValidValue, ValidRound: m.state.ValidRound}), nil
	}
	// No valid value to re-propose yet: ask for one, but also arm the
	// propose timeout so a slow or unresponsive ValueProvider cannot
	// stall this round forever (spec.md §4.1's NewRound(proposer=self)
	// row and §5: "Honest proposers must tolerate this delay via the
	// TimeoutPropose mechanism").
	return []Output{RequestValueOutput{}, ScheduleTimeoutOutput{Kind: consensus.TimeoutPropose}}, nil
}

func (m *Machine) onProposeValue(in ProposeValue) ([]Output, error) {
	if m.state.Step != consensus.StepPropose {
		return nil, nil
	}
	return one(BroadcastProposal{Value: in.Value, ValidRound: consensus.InvalidRound}), nil
}

func (m *Machine) onProposal(in Proposal) ([]Output, error) {
	if m.state.Step != consensus.StepPropose {
		return nil, nil
	}
	if in.ValidRound != consensus.InvalidRound {
		// This is a re-proposal with an attached valid round; it is
		// handled by ProposalAndPolkaPrevious, not this row.
		return nil, nil
	}
	return one(m.prevoteOnPropose(in.Value, in.Valid, consensus.InvalidRound)), nil
}

func (m *Machine) onProposalAndPolkaPrevious(in ProposalAndPolkaPrevious) ([]Output, error) {
	if m.state.Step != consensus.StepPropose {
		return nil, nil
	}
	if in.ValidRound < 0 || in.ValidRound >= m.state.Round {
		return nil, nil
	}
	return one(m.prevoteOnPropose(in.Value, in.Valid, in.ValidRound)), nil
}

// prevoteOnPropose implements the shared guard of L22/L28: prevote for
// id(v) if the proposal is valid and the process is unlocked, already
// locked on v, or locked in a round no later than validRound; prevote
// nil otherwise.
func (m *Machine) prevoteOnPropose(value consensus.Value, valid bool, validRound consensus.Round) Output {
	defer m.stepToPrevote()

	canAccept := m.state.LockedRound == consensus.InvalidRound ||
		m.state.LockedRound <= validRound ||
		valuesEqual(m.state.LockedValue, value)

	if valid && canAccept {
		return BroadcastVote{Type: consensus.PrevoteType, Value: consensus.ComputeValueID(value)}
	}
	return BroadcastVote{Type: consensus.PrevoteType, Value: consensus.NilValueID}
}

func (m *Machine) stepToPrevote() {
	m.state.Step = consensus.StepPrevote
}

func (m *Machine) onPolkaAny(PolkaAny) ([]Output, error) {
	if m.state.Step != consensus.StepPrevote {
		return nil, nil
	}
	if m.state.fired.has(firedPolkaAny) {
		return nil, nil
	}
	m.state.fired |= firedPolkaAny
	return one(ScheduleTimeoutOutput{Kind: consensus.TimeoutPrevote}), nil
}

func (m *Machine) onProposalAndPolkaCurrent(in ProposalAndPolkaCurrent) ([]Output, error) {
	if m.state.Step != consensus.StepPrevote && m.state.Step != consensus.StepPrecommit {
		return nil, nil
	}
	if m.state.fired.has(firedPolkaCurrent) {
		return nil, nil
	}
	m.state.fired |= firedPolkaCurrent

	m.state.ValidValue = in.Value
	m.state.ValidRound = m.state.Round

	if m.state.Step == consensus.StepPrevote {
		m.state.LockedValue = in.Value
		m.state.LockedRound = m.state.Round
		m.state.Step = consensus.StepPrecommit
		return one(BroadcastVote{Type: consensus.PrecommitType, Value: consensus.ComputeValueID(in.Value)}), nil
	}
	return nil, nil
}

func (m *Machine) onPolkaNil(PolkaNil) ([]Output, error) {
	if m.state.Step != consensus.StepPrevote {
		return nil, nil
	}
	m.state.Step = consensus.StepPrecommit
	return one(BroadcastVote{Type: consensus.PrecommitType, Value: consensus.NilValueID}), nil
}

func (m *Machine) onPrecommitAny(PrecommitAny) ([]Output, error) {
	if !inProgress(m.state.Step) {
		return nil, nil
	}
	if m.state.fired.has(firedPrecommitAny) {
		return nil, nil
	}
	m.state.fired |= firedPrecommitAny
	return one(ScheduleTimeoutOutput{Kind: consensus.TimeoutPrecommit}), nil
}

func (m *Machine) onTimeoutPropose(TimeoutPropose) ([]Output, error) {
	if m.state.Step != consensus.StepPropose {
		return nil, nil
	}
	m.state.Step = consensus.StepPrevote
	return one(BroadcastVote{Type: consensus.PrevoteType, Value: consensus.NilValueID}), nil
}

func (m *Machine) onTimeoutPrevote(TimeoutPrevote) ([]Output, error) {
	if m.state.Step != consensus.StepPrevote {
		return nil, nil
	}
	m.state.Step = consensus.StepPrecommit
	return one(BroadcastVote{Type: consensus.PrecommitType, Value: consensus.NilValueID}), nil
}

func (m *Machine) onTimeoutPrecommit(TimeoutPrecommit) ([]Output, error) {
	if !inProgress(m.state.Step) {
		return nil, nil
	}
	return one(StartNewRound{Round: m.state.Round + 1}), nil
}
