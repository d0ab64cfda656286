package driver

import (
	"fmt"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
	"github.com/velabft/core/rsm"
	"github.com/velabft/core/votekeeper"
)

// HandleVote admits a signed vote for the driver's current height. The
// signature itself is assumed already verified by the caller; HandleVote
// checks only that the voter belongs to the height's ValidatorSet.
func (d *Driver) HandleVote(sv consensus.SignedVote) ([]effect.Effect, error) {
	if sv.Vote.Height != d.height {
		return nil, &consensus.RejectedInputError{Reason: "vote for a different height"}
	}
	validator, ok := d.validators.Get(sv.Vote.Voter)
	if !ok {
		return nil, &consensus.RejectedInputError{Reason: "vote from a non-validator"}
	}

	events, equivocation := d.keeper.ApplyVote(sv.Vote, validator.VotingPower, d.currentRound)
	if equivocation != nil {
		d.opts.Logger.WithFields(map[string]interface{}{
			"voter": equivocation.Voter.String(),
			"round": int64(equivocation.Round),
			"type":  equivocation.Type.String(),
		}).Warn("driver: equivocating vote detected")
		// The conflicting vote's weight never counted (votekeeper.Keeper:
		// "first vote's weight stands"), so there is nothing new for
		// events to multiplex; surface the evidence to the caller instead
		// of silently dropping it.
		return nil, &consensus.MisbehaviorError{Reason: fmt.Sprintf(
			"voter %s cast conflicting %s votes in round %d", equivocation.Voter, equivocation.Type, equivocation.Round,
		)}
	}

	var effects []effect.Effect
	for _, ev := range events {
		es, err := d.applyThresholdEvent(ev)
		if err != nil {
			return effects, err
		}
		effects = append(effects, es...)
	}

	more, err := d.runMultiplexer()
	if err != nil {
		return effects, err
	}
	return finish(append(effects, more...), nil)
}

// applyThresholdEvent feeds round-scoped ThresholdEvents straight to the
// round state machine. PolkaValue and PrecommitValue carry no step
// transition on their own — they only matter once paired with a stored
// proposal, which runMultiplexer checks separately.
func (d *Driver) applyThresholdEvent(ev votekeeper.ThresholdEvent) ([]effect.Effect, error) {
	switch e := ev.(type) {
	case votekeeper.SkipRound:
		out, err := d.machine.Apply(rsm.SkipRound{Round: e.Round})
		if err != nil {
			return nil, err
		}
		return d.translateOutputs(out)

	case votekeeper.PolkaAny:
		if e.Round != d.currentRound {
			return nil, nil
		}
		out, err := d.machine.Apply(rsm.PolkaAny{})
		if err != nil {
			return nil, err
		}
		return d.translateOutputs(out)

	case votekeeper.PolkaNil:
		if e.Round != d.currentRound {
			return nil, nil
		}
		out, err := d.machine.Apply(rsm.PolkaNil{})
		if err != nil {
			return nil, err
		}
		return d.translateOutputs(out)

	case votekeeper.PrecommitAny:
		if e.Round != d.currentRound {
			return nil, nil
		}
		out, err := d.machine.Apply(rsm.PrecommitAny{})
		if err != nil {
			return nil, err
		}
		return d.translateOutputs(out)

	case votekeeper.PolkaValue, votekeeper.PrecommitValue:
		return nil, nil

	default:
		return nil, nil
	}
}
