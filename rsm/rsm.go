// Package rsm implements the round state machine of spec.md §4.1: a
// pure function from (RoundState, Input) to (RoundState, Output). It
// performs no I/O, holds no clock, and owns no storage — exactly the
// teacher's state/machine.go, generalized to the authoritative
// transition table of spec.md (a single ordered dispatch instead of the
// pseudocode's multiple independent `upon` clauses) and to
// application-opaque Values instead of hyperdrive's blockchain Blocks.
package rsm

import (
	"github.com/velabft/core/consensus"
)

// RoundState is the triple (step, locked, valid) of spec.md §3, plus
// the round it belongs to and the once-only bookkeeping the table's
// "first time" guards require.
type RoundState struct {
	Round consensus.Round
	Step  consensus.Step

	LockedValue consensus.Value
	LockedRound consensus.Round

	ValidValue consensus.Value
	ValidRound consensus.Round

	fired onceFlags
}

// NewRoundState returns the initial RoundState of a height: unstarted,
// nothing locked, nothing valid.
func NewRoundState() RoundState {
	return RoundState{
		Round:       0,
		Step:        consensus.StepUnstarted,
		LockedRound: consensus.InvalidRound,
		ValidRound:  consensus.InvalidRound,
	}
}

// onceFlags tracks which "for the first time" transitions have already
// fired in the current round, generalizing the teacher's
// process.OnceFlag bitmask (proc/proc.go) from a round-keyed map to an
// embedded field since rsm.Machine only ever looks at the current
// round's flags.
type onceFlags uint8

const (
	firedPolkaAny onceFlags = 1 << iota
	firedPolkaCurrent
	firedPrecommitAny
)

func (f onceFlags) has(flag onceFlags) bool { return f&flag == flag }

func valuesEqual(a, b consensus.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func inProgress(step consensus.Step) bool {
	switch step {
	case consensus.StepPropose, consensus.StepPrevote, consensus.StepPrecommit:
		return true
	default:
		return false
	}
}
