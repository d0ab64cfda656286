package driver

import (
	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
	"github.com/velabft/core/rsm"
)

// HandleProposeValue delivers the value a ValueProvider produced in
// response to a RequestValue effect. Stale responses (for a height or
// round the driver has already moved past) are dropped silently, since
// a ValueProvider may legitimately answer after its deadline.
func (d *Driver) HandleProposeValue(h consensus.Height, r consensus.Round, v consensus.Value) ([]effect.Effect, error) {
	if h != d.height || r != d.currentRound {
		return nil, nil
	}
	out, err := d.machine.Apply(rsm.ProposeValue{Value: v})
	if err != nil {
		return nil, err
	}
	return finish(d.translateOutputs(out))
}

// HandleTimeoutElapsed delivers a timeout the interpreter's Timer fired.
// A timeout for a height/round the driver has already left is stale and
// dropped (spec.md §5): CancelTimeout is best-effort, so stale firings
// are expected, not an error.
func (d *Driver) HandleTimeoutElapsed(kind consensus.TimeoutKind, h consensus.Height, r consensus.Round) ([]effect.Effect, error) {
	if h != d.height || r != d.currentRound {
		return nil, nil
	}
	var input rsm.Input
	switch kind {
	case consensus.TimeoutPropose:
		input = rsm.TimeoutPropose{}
	case consensus.TimeoutPrevote:
		input = rsm.TimeoutPrevote{}
	case consensus.TimeoutPrecommit:
		input = rsm.TimeoutPrecommit{}
	default:
		return nil, &consensus.InvariantViolationError{Reason: "driver: unknown timeout kind"}
	}

	out, err := d.machine.Apply(input)
	if err != nil {
		return nil, err
	}
	effects, err := d.translateOutputs(out)
	if err != nil {
		return effects, err
	}
	more, err := d.runMultiplexer()
	return finish(append(effects, more...), err)
}
