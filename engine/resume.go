package engine

import (
	"fmt"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/driver"
	"github.com/velabft/core/wal"
)

// Resume loads every WAL entry recorded for h and replays it into the
// underlying driver before any live input is processed, recovering a
// process's round state after a restart without re-deriving it from
// the network (spec.md §4.4, §6).
//
// Replay suppresses every outbound Effect the driver would normally
// yield (driver.Replay's contract): no Broadcast is re-sent, and no
// ScheduleTimeout is re-armed for its original deadline, since that
// deadline may already be in the past. Once replay completes, Resume
// re-derives whatever timeout the recovered round state implies is
// still outstanding and schedules it fresh, rather than trusting a
// timeout that fired mid-replay to still be meaningful.
func (rt *Runtime) Resume(h consensus.Height) error {
	entries, err := rt.store.Load(wal.Height(h))
	if err != nil {
		return fmt.Errorf("engine: load wal entries for height %d: %w", int64(h), err)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := rt.driver.Replay(entries); err != nil {
		return err
	}
	rt.rescheduleOutstandingTimeout()
	return nil
}

// rescheduleOutstandingTimeout re-arms the one timeout the recovered
// round state implies is pending, inferred from the driver's current
// Step rather than from any timeout bookkeeping replay discarded.
// StepCommit and StepUnstarted have no outstanding timeout: the height
// has already decided, or StartHeight has not yet been replayed.
func (rt *Runtime) rescheduleOutstandingTimeout() {
	state := rt.driver.RoundState()
	var kind consensus.TimeoutKind
	switch state.Step {
	case consensus.StepPropose:
		kind = consensus.TimeoutPropose
	case consensus.StepPrevote:
		kind = consensus.TimeoutPrevote
	case consensus.StepPrecommit:
		kind = consensus.TimeoutPrecommit
	default:
		return
	}
	round := rt.driver.Round()
	rt.collab.Timer.ScheduleTimeout(kind, rt.driver.Height(), round, rt.timeoutConfigFor(kind).Duration(round))
}

// timeoutConfigFor mirrors driver.Driver's internal per-kind timeout
// selection. It is re-derived here (rather than exposed by driver)
// because Resume is the only caller outside driver itself that needs a
// timeout duration without an Output to carry it.
func (rt *Runtime) timeoutConfigFor(kind consensus.TimeoutKind) driver.TimeoutConfig {
	defaulted := rt.opts.Timeouts.WithDefaults()
	switch kind {
	case consensus.TimeoutPrevote:
		return defaulted.Prevote
	case consensus.TimeoutPrecommit:
		return defaulted.Precommit
	default:
		return defaulted.Propose
	}
}
