// Package engine implements the effect runtime of spec.md §4.4: the
// layer that persists every driver input to the write-ahead log,
// drives a *driver.Driver with it, and executes the Effects the driver
// yields against real collaborators.
//
// It is grounded in the teacher's replica.Replica (replica/replica.go),
// whose HandleMessage already does "handle the input, then save the
// resulting state" before returning — Runtime generalizes that into
// "persist the input durably, then hand it to the driver, then execute
// the driver's effects", per spec.md's stronger ordering requirement
// (durable before any outbound Broadcast/Decide caused by that input).
//
// This package is deliberately not named effect: effect already holds
// the Effect/collaborator contract that driver depends on, and a
// runtime living there would import driver, which imports effect —
// a cycle. engine sits above both, exactly where replica.Replica sits
// above process.Process in the teacher.
package engine

import (
	"errors"
	"fmt"

	"github.com/renproject/phi"
	"github.com/sirupsen/logrus"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/driver"
	"github.com/velabft/core/effect"
	"github.com/velabft/core/wal"
)

// Options configures a Runtime. Zero values are replaced by
// setZerosToDefaults, mirroring replica.Options. Timeouts is passed
// straight through to the underlying driver.Driver; Resume also
// consults it when re-arming a timeout after replay.
type Options struct {
	Logger   logrus.FieldLogger
	Timeouts driver.Options
}

func (opts *Options) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	opts.Timeouts.Logger = opts.Logger
}

// Collaborators bundles every external dependency the runtime needs to
// execute a Driver's effects. Broadcasters is a slice rather than a
// single value so a Broadcast effect can be fanned out to multiple
// sinks (e.g. a network transport and a metrics mirror) concurrently
// via phi.ParForAll, generalizing the teacher's single Broadcaster.
type Collaborators struct {
	Signer         effect.Signer
	Proposer       effect.ProposerSelector
	ValueProvider  effect.ValueProvider
	ValueValidator effect.ValueValidator
	Timer          effect.Timer
	Broadcasters   []effect.Broadcaster
	ValidatorSets  effect.ValidatorSetProvider
}

// DecideFunc is invoked once per height when the driver yields a
// Decide effect. It is the only way a Runtime's caller learns that a
// height has reached agreement.
type DecideFunc func(effect.Decide)

// Runtime drives one driver.Driver, persisting its inputs to a
// wal.Store and executing the Effects it yields. It is not safe for
// concurrent use, matching replica.Replica's single-goroutine contract.
type Runtime struct {
	opts   Options
	self   consensus.Address
	collab Collaborators
	store  wal.Store
	driver *driver.Driver
	decide DecideFunc

	// validated tracks which (round, value) pairs have already been
	// handed to the ValueValidator for the current height, so a
	// retransmitted proposal does not trigger a second validation
	// request (spec.md §6: "at most one ProposedValue per distinct V
	// observed in round R" — the driver dedups retransmissions, but it
	// never calls ValidateValue itself, so the engine must dedup here).
	validated map[consensus.Round]map[consensus.ValueID]bool
}

// New returns a Runtime for a single process identified by self.
func New(self consensus.Address, collab Collaborators, store wal.Store, opts Options, onDecide DecideFunc) *Runtime {
	opts.setZerosToDefaults()
	return &Runtime{
		opts:   opts,
		self:   self,
		collab: collab,
		store:  store,
		driver:    driver.New(self, collab.Proposer, opts.Timeouts),
		decide:    onDecide,
		validated: map[consensus.Round]map[consensus.ValueID]bool{},
	}
}

// StartHeight begins height h, consulting the ValidatorSetProvider for
// its ValidatorSet (spec.md §4.3: the only point at which a new
// ValidatorSet is consulted).
func (rt *Runtime) StartHeight(h consensus.Height) error {
	vs, err := rt.collab.ValidatorSets.GetValidatorSet(h)
	if err != nil {
		return fmt.Errorf("engine: get validator set for height %d: %w", int64(h), err)
	}
	entry := driver.WALEntry{
		Kind:        driver.KindStartHeight,
		StartHeight: &driver.StartHeightPayload{Height: h, Validators: vs},
	}
	if err := rt.persist(h, entry); err != nil {
		return err
	}
	// h's StartHeight is now durable, so everything below h can be
	// discarded: h-1 already decided (or this is height 0 and there is
	// nothing to discard), and replaying from h never needs it again
	// (spec.md §6: "persistence may be truncated once H's decision is
	// durable and H+1 has started").
	if err := rt.store.TruncateBelow(wal.Height(h)); err != nil {
		rt.opts.Logger.WithError(err).Error("engine: wal truncate below started height failed")
	}
	rt.validated = map[consensus.Round]map[consensus.ValueID]bool{}
	effects, err := rt.driver.StartHeight(h, vs)
	if err != nil {
		return err
	}
	return rt.execute(effects)
}

// HandleProposal persists and applies a signed proposal. A
// RejectedInputError is logged and swallowed, matching replica.Replica
// dropping ill-formed/out-of-turn messages rather than halting.
func (rt *Runtime) HandleProposal(sp consensus.SignedProposal) error {
	entry := driver.WALEntry{Kind: driver.KindProposal, Proposal: &sp}
	if err := rt.persist(rt.driver.Height(), entry); err != nil {
		return err
	}
	effects, err := rt.driver.HandleProposal(sp)
	if err != nil {
		// A second, distinct proposal from the round's proposer is still
		// stored by the driver, so it gets a validation request too.
		var misbehavior *consensus.MisbehaviorError
		if errors.As(err, &misbehavior) {
			rt.requestValidation(sp.Proposal)
		}
		return rt.finishHandle("proposal", effects, err)
	}
	rt.requestValidation(sp.Proposal)
	return rt.execute(effects)
}

// requestValidation calls the ValueValidator at most once per distinct
// value seen in a round. Its verdict is not returned synchronously; it
// arrives later as a HandleProposedValue call.
func (rt *Runtime) requestValidation(p consensus.Proposal) {
	seen, ok := rt.validated[p.Round]
	if !ok {
		seen = map[consensus.ValueID]bool{}
		rt.validated[p.Round] = seen
	}
	vid := consensus.ComputeValueID(p.Value)
	if seen[vid] {
		return
	}
	seen[vid] = true
	rt.collab.ValueValidator.ValidateValue(p.Height, p.Round, p.Value)
}

// HandleVote persists and applies a signed vote.
func (rt *Runtime) HandleVote(sv consensus.SignedVote) error {
	entry := driver.WALEntry{Kind: driver.KindVote, Vote: &sv}
	if err := rt.persist(rt.driver.Height(), entry); err != nil {
		return err
	}
	effects, err := rt.driver.HandleVote(sv)
	return rt.finishHandle("vote", effects, err)
}

// HandleProposedValue persists and applies a ValueValidator verdict.
func (rt *Runtime) HandleProposedValue(h consensus.Height, r consensus.Round, v consensus.Value, valid bool) error {
	entry := driver.WALEntry{
		Kind:          driver.KindProposedValue,
		ProposedValue: &driver.ProposedValuePayload{Height: h, Round: r, Value: v, Valid: valid},
	}
	if err := rt.persist(h, entry); err != nil {
		return err
	}
	effects, err := rt.driver.HandleProposedValue(h, r, v, valid)
	return rt.finishHandle("proposed value", effects, err)
}

// HandleProposeValue persists and applies a value a ValueProvider
// produced in response to a RequestValue effect.
func (rt *Runtime) HandleProposeValue(h consensus.Height, r consensus.Round, v consensus.Value) error {
	entry := driver.WALEntry{
		Kind:         driver.KindProposeValue,
		ProposeValue: &driver.ProposeValuePayload{Height: h, Round: r, Value: v},
	}
	if err := rt.persist(h, entry); err != nil {
		return err
	}
	effects, err := rt.driver.HandleProposeValue(h, r, v)
	return rt.finishHandle("propose value", effects, err)
}

// HandleTimeoutElapsed persists and applies a timeout a Timer fired.
func (rt *Runtime) HandleTimeoutElapsed(kind consensus.TimeoutKind, h consensus.Height, r consensus.Round) error {
	entry := driver.WALEntry{
		Kind:           driver.KindTimeoutElapsed,
		TimeoutElapsed: &driver.TimeoutElapsedPayload{Kind: kind, Height: h, Round: r},
	}
	if err := rt.persist(h, entry); err != nil {
		return err
	}
	effects, err := rt.driver.HandleTimeoutElapsed(kind, h, r)
	return rt.finishHandle("timeout elapsed", effects, err)
}

// persist durably records entry before the driver is ever consulted,
// so a crash between persisting and executing effects loses at most
// work that replay can redo, never a decision that was never recorded
// (spec.md §4.4).
func (rt *Runtime) persist(h consensus.Height, entry driver.WALEntry) error {
	if err := rt.store.Append(wal.Height(h), entry); err != nil {
		werr := &consensus.WALError{Cause: err}
		rt.opts.Logger.WithError(werr).Error("engine: wal append failed")
		return werr
	}
	return nil
}

func (rt *Runtime) finishHandle(label string, effects []effect.Effect, err error) error {
	if err != nil {
		var rejected *consensus.RejectedInputError
		if errors.As(err, &rejected) {
			rt.opts.Logger.WithError(err).Warnf("engine: rejected %s", label)
			return nil
		}
		var misbehavior *consensus.MisbehaviorError
		if errors.As(err, &misbehavior) {
			rt.opts.Logger.WithError(err).Warnf("engine: misbehavior detected while handling %s", label)
			return nil
		}
		return err
	}
	return rt.execute(effects)
}

// execute runs every Effect the driver yielded, in the order the
// driver returned them (spec.md §5: messages, then timeouts, then
// value requests).
func (rt *Runtime) execute(effects []effect.Effect) error {
	for _, e := range effects {
		if err := rt.executeOne(e); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) executeOne(e effect.Effect) error {
	switch eff := e.(type) {
	case effect.BroadcastProposal:
		signed, err := rt.collab.Signer.SignProposal(eff.Proposal)
		if err != nil {
			rt.opts.Logger.WithError(err).Warn("engine: sign proposal failed, dropping broadcast")
			return nil
		}
		rt.broadcastProposal(signed)

	case effect.BroadcastVote:
		signed, err := rt.collab.Signer.SignVote(eff.Vote)
		if err != nil {
			rt.opts.Logger.WithError(err).Warn("engine: sign vote failed, dropping broadcast")
			return nil
		}
		rt.broadcastVote(signed)

	case effect.ScheduleTimeout:
		rt.collab.Timer.ScheduleTimeout(eff.Kind, eff.Height, eff.Round, eff.Duration)

	case effect.CancelTimeout:
		rt.collab.Timer.CancelTimeout(eff.Kind, eff.Height, eff.Round)

	case effect.RequestValue:
		rt.collab.ValueProvider.RequestValue(eff.Height, eff.Round, eff.Deadline)

	case effect.Decide:
		if rt.decide != nil {
			rt.decide(eff)
		}

	default:
		return &consensus.InvariantViolationError{Reason: "engine: unrecognised effect type"}
	}
	return nil
}

// broadcastProposal fans a signed proposal out to every registered
// Broadcaster concurrently, grounded in hyperdrive.go's
// phi.ParForAll(hyper.replicas, func(shard Shard) {...}) fan-out across
// shards, reused here to fan a single effect out across sinks instead.
func (rt *Runtime) broadcastProposal(sp consensus.SignedProposal) {
	phi.ParForAll(rt.collab.Broadcasters, func(b effect.Broadcaster) {
		b.BroadcastProposal(sp)
	})
}

func (rt *Runtime) broadcastVote(sv consensus.SignedVote) {
	phi.ParForAll(rt.collab.Broadcasters, func(b effect.Broadcaster) {
		b.BroadcastVote(sv)
	})
}

// Height returns the height the underlying driver is currently
// processing.
func (rt *Runtime) Height() consensus.Height { return rt.driver.Height() }

// Round returns the round the underlying driver is currently
// processing.
func (rt *Runtime) Round() consensus.Round { return rt.driver.Round() }
