// Package driver implements spec.md §4.3: the per-height multiplexer
// that owns one rsm.Machine and one votekeeper.Keeper, combines their
// outputs with stored proposals, and translates the result into the
// Effects the surrounding interpreter must execute.
//
// It generalizes the teacher's replica.Replica (replica/replica.go),
// which owned a proc.Process plus per-shard scheduling and rebasing,
// into a single-height, Value-opaque driver with no notion of shards or
// blocks.
package driver

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
	"github.com/velabft/core/rsm"
	"github.com/velabft/core/votekeeper"
)

// TimeoutConfig gives the linear per-round timeout formula of spec.md
// §4.1: timeout(kind, R) = Initial + R*Delta.
type TimeoutConfig struct {
	Initial time.Duration
	Delta   time.Duration
}

func (c TimeoutConfig) duration(round consensus.Round) time.Duration {
	if round < 0 {
		round = 0
	}
	return c.Initial + time.Duration(round)*c.Delta
}

// Duration exposes the same per-round formula outside package driver,
// for the engine runtime re-arming a timeout after WAL replay (Resume),
// which has a Step and a Round but no rsm.Output to carry a duration.
func (c TimeoutConfig) Duration(round consensus.Round) time.Duration {
	return c.duration(round)
}

// Options configures a Driver. Zero values are replaced with defaults
// by setZerosToDefaults, mirroring the teacher's replica.Options.
type Options struct {
	Propose   TimeoutConfig
	Prevote   TimeoutConfig
	Precommit TimeoutConfig
	Logger    logrus.FieldLogger
}

func (opts *Options) setZerosToDefaults() {
	if opts.Propose.Initial == 0 {
		opts.Propose.Initial = 3 * time.Second
	}
	if opts.Propose.Delta == 0 {
		opts.Propose.Delta = 500 * time.Millisecond
	}
	if opts.Prevote.Initial == 0 {
		opts.Prevote.Initial = time.Second
	}
	if opts.Prevote.Delta == 0 {
		opts.Prevote.Delta = 500 * time.Millisecond
	}
	if opts.Precommit.Initial == 0 {
		opts.Precommit.Initial = time.Second
	}
	if opts.Precommit.Delta == 0 {
		opts.Precommit.Delta = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
}

// WithDefaults returns a copy of opts with every zero field replaced by
// its default, for callers (the engine runtime's Resume) that need a
// fully-populated Options without constructing a Driver.
func (opts Options) WithDefaults() Options {
	opts.setZerosToDefaults()
	return opts
}

// storedProposal is a proposal this driver has admitted for a round,
// together with its proposer and the validity verdict delivered later
// by a ProposedValue input (nil until then).
type storedProposal struct {
	Proposal consensus.Proposal
	Proposer consensus.Address
	Valid    *bool
}

// Driver is the per-height multiplexer of spec.md §4.3. It holds no
// network or disk handles; it only ever returns Effects for the caller
// to execute, and is driven entirely by the Handle* methods below plus
// StartHeight.
type Driver struct {
	opts     Options
	self     consensus.Address
	proposer effect.ProposerSelector

	height       consensus.Height
	validators   consensus.ValidatorSet
	currentRound consensus.Round
	started      bool
	decided      bool

	machine *rsm.Machine
	keeper  *votekeeper.Keeper

	proposals map[consensus.Round][]*storedProposal
}

// New returns a Driver for a single validator process. StartHeight must
// be called before any other Handle* method.
func New(self consensus.Address, proposer effect.ProposerSelector, opts Options) *Driver {
	opts.setZerosToDefaults()
	return &Driver{
		opts:     opts,
		self:     self,
		proposer: proposer,
	}
}

// Height returns the height the Driver is currently processing.
func (d *Driver) Height() consensus.Height { return d.height }

// Round returns the round the Driver is currently processing.
func (d *Driver) Round() consensus.Round { return d.currentRound }

// RoundState exposes the underlying round state machine's state, for
// inspection; engine.Runtime.Resume reads its Step to re-arm a timeout
// after replay.
func (d *Driver) RoundState() rsm.RoundState { return d.machine.State() }

// StartHeight begins a new height with the given ValidatorSet, entering
// round 0. It is the only point at which the Driver consults a new
// ValidatorSet (spec.md §4.3).
func (d *Driver) StartHeight(h consensus.Height, vs consensus.ValidatorSet) ([]effect.Effect, error) {
	if err := vs.Validate(); err != nil {
		return nil, err
	}
	d.height = h
	d.validators = vs
	d.currentRound = consensus.InvalidRound
	d.started = false
	d.decided = false
	d.machine = rsm.NewMachine()
	d.keeper = votekeeper.New(vs)
	d.proposals = map[consensus.Round][]*storedProposal{}

	return finish(d.enterRound(0))
}

// enterRound cancels the previous round's outstanding timeouts (if any),
// advances the machine to round, and delivers the resulting NewRound
// input, mirroring the teacher's Process.StartRound.
func (d *Driver) enterRound(round consensus.Round) ([]effect.Effect, error) {
	var effects []effect.Effect
	if d.started {
		effects = append(effects, d.cancelRoundTimeouts(d.currentRound)...)
	}

	d.currentRound = round
	d.started = true
	d.machine.EnterRound(round)

	isProposer := d.proposer.Proposer(d.validators, d.height, round) == d.self
	out, err := d.machine.Apply(rsm.NewRound{IsProposer: isProposer})
	if err != nil {
		return effects, err
	}
	more, err := d.translateOutputs(out)
	if err != nil {
		return effects, err
	}
	effects = append(effects, more...)

	more, err = d.runMultiplexer()
	if err != nil {
		return effects, err
	}
	return append(effects, more...), nil
}

func (d *Driver) cancelRoundTimeouts(round consensus.Round) []effect.Effect {
	return []effect.Effect{
		effect.CancelTimeout{Kind: consensus.TimeoutPropose, Height: d.height, Round: round},
		effect.CancelTimeout{Kind: consensus.TimeoutPrevote, Height: d.height, Round: round},
		effect.CancelTimeout{Kind: consensus.TimeoutPrecommit, Height: d.height, Round: round},
	}
}

// translateOutputs converts every rsm.Output Apply returned into the
// Effects (and any recursive round changes) they imply, preserving
// order.
func (d *Driver) translateOutputs(outs []rsm.Output) ([]effect.Effect, error) {
	var all []effect.Effect
	for _, out := range outs {
		effects, err := d.translateOutput(out)
		if err != nil {
			return all, err
		}
		all = append(all, effects...)
	}
	return all, nil
}

// translateOutput converts a single rsm.Output into the Effects (and
// any recursive round changes) it implies.
func (d *Driver) translateOutput(out rsm.Output) ([]effect.Effect, error) {
	switch o := out.(type) {
	case nil:
		return nil, nil

	case rsm.StartNewRound:
		return d.enterRound(o.Round)

	case rsm.BroadcastProposal:
		return []effect.Effect{effect.BroadcastProposal{
			Proposal: consensus.Proposal{
				Height:     d.height,
				Round:      d.currentRound,
				Value:      o.Value,
				ValidRound: o.ValidRound,
			},
		}}, nil

	case rsm.BroadcastVote:
		return []effect.Effect{effect.BroadcastVote{
			Vote: consensus.Vote{
				Type:   o.Type,
				Height: d.height,
				Round:  d.currentRound,
				Value:  o.Value,
				Voter:  d.self,
			},
		}}, nil

	case rsm.ScheduleTimeoutOutput:
		dur := d.timeoutDuration(o.Kind)
		return []effect.Effect{effect.ScheduleTimeout{
			Kind:     o.Kind,
			Height:   d.height,
			Round:    d.currentRound,
			Duration: dur,
		}}, nil

	case rsm.RequestValueOutput:
		deadline := d.opts.Propose.duration(d.currentRound)
		return []effect.Effect{effect.RequestValue{
			Height:   d.height,
			Round:    d.currentRound,
			Deadline: timeNow().Add(deadline),
		}}, nil

	case rsm.Decide:
		d.decided = true
		vid := consensus.ComputeValueID(o.Value)
		precommits := d.keeper.Precommits(o.Round, vid)
		return []effect.Effect{effect.Decide{
			Height:     d.height,
			Round:      o.Round,
			Value:      o.Value,
			Precommits: precommits,
		}}, nil

	default:
		return nil, &consensus.InvariantViolationError{Reason: "driver: unrecognised rsm output type"}
	}
}

func (d *Driver) timeoutDuration(kind consensus.TimeoutKind) time.Duration {
	switch kind {
	case consensus.TimeoutPropose:
		return d.opts.Propose.duration(d.currentRound)
	case consensus.TimeoutPrevote:
		return d.opts.Prevote.duration(d.currentRound)
	case consensus.TimeoutPrecommit:
		return d.opts.Precommit.duration(d.currentRound)
	default:
		return d.opts.Propose.duration(d.currentRound)
	}
}

// timeNow is a var so tests can pin it; production uses time.Now.
var timeNow = time.Now

func sortedRounds(m map[consensus.Round][]*storedProposal) []consensus.Round {
	rounds := make([]consensus.Round, 0, len(m))
	for r := range m {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
	return rounds
}
