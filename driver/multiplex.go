package driver

import (
	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
	"github.com/velabft/core/rsm"
)

// runMultiplexer re-derives every proposal-dependent transition the
// current state of the vote keeper and the stored proposals together
// justify, in the priority order of spec.md §4.1: a decisive precommit
// quorum for any round outranks every current-round transition, which
// in turn follow propose > polka-previous > polka-current.
//
// It is safe to call after any input: every branch re-checks its own
// guard against the machine's current step and the keeper's current
// tallies, so calling it when nothing has changed is a no-op.
func (d *Driver) runMultiplexer() ([]effect.Effect, error) {
	if d.decided {
		return nil, nil
	}

	if effects, decided, err := d.checkDecision(); err != nil || decided {
		return effects, err
	}

	var all []effect.Effect

	if d.machine.State().Step == consensus.StepPropose {
		effects, err := d.checkProposeStep()
		if err != nil {
			return all, err
		}
		all = append(all, effects...)
	}

	step := d.machine.State().Step
	if step == consensus.StepPrevote || step == consensus.StepPrecommit {
		effects, err := d.checkPolkaCurrent()
		if err != nil {
			return all, err
		}
		all = append(all, effects...)
	}

	return all, nil
}

// checkDecision scans every round with a stored, validated proposal for
// a precommit quorum on that proposal's value, in ascending round order
// for determinism. At most one round can legitimately qualify (I4); the
// first one found ends the height.
func (d *Driver) checkDecision() ([]effect.Effect, bool, error) {
	for _, r := range sortedRounds(d.proposals) {
		for _, e := range d.proposals[r] {
			if e.Valid == nil || !*e.Valid {
				continue
			}
			vid := consensus.ComputeValueID(e.Proposal.Value)
			if d.keeper.PrecommitPowerFor(r, vid) < d.keeper.Quorum() {
				continue
			}
			out, err := d.machine.Apply(rsm.ProposalAndPrecommitValue{Value: e.Proposal.Value, Round: r})
			if err != nil {
				return nil, false, err
			}
			effects, err := d.translateOutputs(out)
			return effects, true, err
		}
	}
	return nil, false, nil
}

// checkProposeStep implements the propose-step rows of spec.md §4.1:
// Proposal (no attached valid round) and ProposalAndPolkaPrevious (an
// attached valid round whose polka the vote keeper confirms).
func (d *Driver) checkProposeStep() ([]effect.Effect, error) {
	var all []effect.Effect
	for _, e := range d.proposals[d.currentRound] {
		if e.Valid == nil {
			continue
		}
		if e.Proposal.ValidRound == consensus.InvalidRound {
			out, err := d.machine.Apply(rsm.Proposal{
				Value:      e.Proposal.Value,
				ValidRound: consensus.InvalidRound,
				Valid:      *e.Valid,
			})
			if err != nil {
				return all, err
			}
			effects, err := d.translateOutputs(out)
			if err != nil {
				return all, err
			}
			all = append(all, effects...)
			continue
		}
		if e.Proposal.ValidRound < 0 || e.Proposal.ValidRound >= d.currentRound {
			continue
		}
		vid := consensus.ComputeValueID(e.Proposal.Value)
		if d.keeper.PrevotePowerFor(e.Proposal.ValidRound, vid) < d.keeper.Quorum() {
			continue
		}
		out, err := d.machine.Apply(rsm.ProposalAndPolkaPrevious{
			Value:      e.Proposal.Value,
			ValidRound: e.Proposal.ValidRound,
			Valid:      *e.Valid,
		})
		if err != nil {
			return all, err
		}
		effects, err := d.translateOutputs(out)
		if err != nil {
			return all, err
		}
		all = append(all, effects...)
	}
	return all, nil
}

// checkPolkaCurrent implements ProposalAndPolkaCurrent: once a
// validated proposal for the current round has a current-round polka,
// the process locks/updates its valid value (spec.md §4.1 L36/L44).
func (d *Driver) checkPolkaCurrent() ([]effect.Effect, error) {
	var all []effect.Effect
	for _, e := range d.proposals[d.currentRound] {
		if e.Valid == nil || !*e.Valid {
			continue
		}
		vid := consensus.ComputeValueID(e.Proposal.Value)
		if d.keeper.PrevotePowerFor(d.currentRound, vid) < d.keeper.Quorum() {
			continue
		}
		out, err := d.machine.Apply(rsm.ProposalAndPolkaCurrent{Value: e.Proposal.Value})
		if err != nil {
			return all, err
		}
		effects, err := d.translateOutputs(out)
		if err != nil {
			return all, err
		}
		all = append(all, effects...)
	}
	return all, nil
}
