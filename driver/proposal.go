package driver

import (
	"fmt"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
)

// HandleProposal admits a signed proposal for the driver's current
// height. The caller (the effect interpreter) has already checked the
// signature; HandleProposal checks only that the signer is the round's
// proposer (spec.md §4.3).
func (d *Driver) HandleProposal(sp consensus.SignedProposal) ([]effect.Effect, error) {
	if sp.Proposal.Height != d.height {
		return nil, &consensus.RejectedInputError{Reason: "proposal for a different height"}
	}
	expected := d.proposer.Proposer(d.validators, d.height, sp.Proposal.Round)
	if expected != sp.Proposer {
		return nil, &consensus.RejectedInputError{Reason: "proposal not from round's proposer"}
	}

	entries := d.proposals[sp.Proposal.Round]
	for _, e := range entries {
		if e.Proposal.Equal(sp.Proposal) {
			return nil, nil // retransmission, already on file
		}
	}
	if len(entries) >= 2 {
		// Bounded per spec.md §4.3: a proposer equivocates at most once
		// worth of extra evidence is kept; further copies are dropped.
		return nil, nil
	}
	equivocating := len(entries) > 0
	if equivocating {
		d.opts.Logger.WithFields(logFieldsProposal(sp.Proposal)).
			Warn("driver: equivocating proposer, storing second proposal as evidence")
	}
	d.proposals[sp.Proposal.Round] = append(entries, &storedProposal{
		Proposal: sp.Proposal,
		Proposer: sp.Proposer,
	})
	if equivocating {
		// The second proposal is kept as evidence (above) so a later
		// ProposedValue verdict for it can still be multiplexed; the
		// caller learns about the misbehavior now instead of only
		// seeing it in a log line.
		return nil, &consensus.MisbehaviorError{Reason: fmt.Sprintf(
			"proposer %s sent conflicting proposals for height %d round %d", sp.Proposer, sp.Proposal.Height, sp.Proposal.Round,
		)}
	}

	return finish(d.runMultiplexer())
}

// HandleProposedValue delivers a ValueValidator verdict for a value
// this driver has already stored a proposal for. Verdicts for values
// with no matching stored proposal are ignored (the proposal may simply
// not have arrived yet; a later HandleProposal re-triggers the
// multiplexer itself).
func (d *Driver) HandleProposedValue(h consensus.Height, r consensus.Round, v consensus.Value, valid bool) ([]effect.Effect, error) {
	if h != d.height {
		return nil, nil
	}
	vid := consensus.ComputeValueID(v)
	updated := false
	for _, e := range d.proposals[r] {
		if consensus.ComputeValueID(e.Proposal.Value) == vid {
			validCopy := valid
			e.Valid = &validCopy
			updated = true
		}
	}
	if !updated {
		return nil, nil
	}
	return finish(d.runMultiplexer())
}

func logFieldsProposal(p consensus.Proposal) map[string]interface{} {
	return map[string]interface{}{
		"height": int64(p.Height),
		"round":  int64(p.Round),
	}
}

// finish applies the §5 ordering rule to a (effects, error) pair, used
// by every Handle* method as its return statement.
func finish(effects []effect.Effect, err error) ([]effect.Effect, error) {
	return orderEffects(effects), err
}
