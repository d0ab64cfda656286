package driver

import (
	"github.com/velabft/core/consensus"
)

// RoundRobinProposer selects proposer(H, R) by stepping through the
// ValidatorSet's addresses in deterministic order, weighting each
// validator's share of turns by its voting power. It generalizes the
// teacher's replica.roundRobinScheduler (replica/schedule.go), which
// weighted every signatory equally, to the voting-power-weighted
// selection spec.md §3 requires ("a pure, deterministic function of the
// ValidatorSet and (H, R) ... MAY weight selection by voting power").
type RoundRobinProposer struct{}

// Proposer implements effect.ProposerSelector.
func (RoundRobinProposer) Proposer(vs consensus.ValidatorSet, h consensus.Height, r consensus.Round) consensus.Address {
	n := vs.Len()
	if n == 0 {
		return consensus.Address{}
	}
	total := vs.TotalVotingPower()
	if total <= 0 {
		// Degenerate set (should not pass Validate); fall back to an
		// unweighted round robin over validator slots.
		idx := (uint64(h) + uint64(r)) % uint64(n)
		return vs.At(int(idx)).Address
	}

	// turn indexes the sequence of proposer slots since height 0 round
	// 0. Each validator occupies a contiguous run of slots proportional
	// to its voting power within one full cycle of length total.
	turn := (uint64(h) + uint64(r)) % uint64(total)
	var cursor consensus.VotingPower
	for i := 0; i < n; i++ {
		v := vs.At(i)
		cursor += v.VotingPower
		if turn < uint64(cursor) {
			return v.Address
		}
	}
	return vs.At(n - 1).Address
}
