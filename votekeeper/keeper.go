// Package votekeeper implements the per-round vote accounting of
// spec.md §4.2: admitting signed votes, detecting quorum thresholds and
// equivocation, and emitting each threshold event at most once.
//
// It generalizes the teacher's process.Inbox (process/state.go,
// NewInbox/Reset) from a per-message-type, per-round counter keyed
// only by "have we seen f+1/2f+1 votes" into the value-keyed threshold
// accounting spec.md requires, and extends its height-scoped
// cross-round retention to support late PolkaValue/PrecommitValue
// lookups from any round of the height (§4.2 "Cross-round retention").
package votekeeper

import (
	"sort"

	"github.com/velabft/core/consensus"
)

// voterRecord is the bounded per-voter, per-round storage spec.md §4.2
// mandates: at most one prevote, one precommit, and one equivocation
// witness per voter per round, regardless of how many votes a
// Byzantine voter tries to submit.
type voterRecord struct {
	prevote      *consensus.Vote
	precommit    *consensus.Vote
	equivocation *consensus.Vote // the second, conflicting vote kept as evidence
}

type thresholdKey struct {
	round consensus.Round
	kind  string
	value consensus.ValueID
}

// roundVotes is the per-round state of spec.md §3: "votes_by_voter,
// weights_by_value, emitted_thresholds".
type roundVotes struct {
	votesByVoter map[consensus.Address]*voterRecord

	prevoteWeightByValue   map[consensus.ValueID]consensus.VotingPower
	precommitWeightByValue map[consensus.ValueID]consensus.VotingPower

	prevotePower   consensus.VotingPower
	precommitPower consensus.VotingPower

	// distinctVoters tracks every address that has cast any vote in
	// this round, for the SkipRound accounting, which counts voting
	// power once per voter regardless of how many vote kinds they cast.
	distinctVoters map[consensus.Address]consensus.VotingPower
}

func newRoundVotes() *roundVotes {
	return &roundVotes{
		votesByVoter:           map[consensus.Address]*voterRecord{},
		prevoteWeightByValue:   map[consensus.ValueID]consensus.VotingPower{},
		precommitWeightByValue: map[consensus.ValueID]consensus.VotingPower{},
		distinctVoters:         map[consensus.Address]consensus.VotingPower{},
	}
}

// Keeper accounts votes for every round of a single height. A Keeper is
// created fresh on StartHeight and discarded at the height's end,
// mirroring spec.md §3's invariant I5 ("a height is entered exactly
// once per process lifetime") applied to its vote bookkeeping.
type Keeper struct {
	validators consensus.ValidatorSet
	rounds     map[consensus.Round]*roundVotes
	emitted    map[thresholdKey]struct{}
	skipped    map[consensus.Round]struct{}
}

// New returns a Keeper for a height's ValidatorSet.
func New(validators consensus.ValidatorSet) *Keeper {
	return &Keeper{
		validators: validators,
		rounds:     map[consensus.Round]*roundVotes{},
		emitted:    map[thresholdKey]struct{}{},
		skipped:    map[consensus.Round]struct{}{},
	}
}

func (k *Keeper) roundState(round consensus.Round) *roundVotes {
	rv, ok := k.rounds[round]
	if !ok {
		rv = newRoundVotes()
		k.rounds[round] = rv
	}
	return rv
}

// ApplyVote admits a signed vote cast with the given voting power and
// returns every threshold event newly satisfied, plus an Equivocation
// if the vote conflicts with one already on file for the same voter.
// Each ThresholdEvent is returned at most once across the Keeper's
// lifetime (I3/P4); callers that see SkipRound for an already-current
// round can ignore it.
func (k *Keeper) ApplyVote(vote consensus.Vote, power consensus.VotingPower, currentRound consensus.Round) ([]ThresholdEvent, *Equivocation) {
	rv := k.roundState(vote.Round)

	record, seen := rv.votesByVoter[vote.Voter]
	if !seen {
		record = &voterRecord{}
		rv.votesByVoter[vote.Voter] = record
	}

	var equivocation *Equivocation
	switch vote.Type {
	case consensus.PrevoteType:
		if record.prevote != nil {
			if record.prevote.Equal(vote) {
				return nil, nil // duplicate, no-op (I1, B3)
			}
			if record.equivocation == nil {
				record.equivocation = &vote
			}
			equivocation = &Equivocation{
				Voter: vote.Voter, Type: vote.Type, Round: vote.Round,
				First: *record.prevote, Second: vote,
			}
			// Do not double-count power (B4): first vote's weight stands.
			return k.thresholds(vote.Round, currentRound), equivocation
		}
		record.prevote = &vote
		rv.prevoteWeightByValue[vote.Value] += power
		rv.prevotePower += power
	case consensus.PrecommitType:
		if record.precommit != nil {
			if record.precommit.Equal(vote) {
				return nil, nil
			}
			if record.equivocation == nil {
				record.equivocation = &vote
			}
			equivocation = &Equivocation{
				Voter: vote.Voter, Type: vote.Type, Round: vote.Round,
				First: *record.precommit, Second: vote,
			}
			return k.thresholds(vote.Round, currentRound), equivocation
		}
		record.precommit = &vote
		rv.precommitWeightByValue[vote.Value] += power
		rv.precommitPower += power
	}

	if _, counted := rv.distinctVoters[vote.Voter]; !counted {
		rv.distinctVoters[vote.Voter] = power
	}

	return k.thresholds(vote.Round, currentRound), equivocation
}

// thresholds recomputes every quorum/skip condition for round and
// returns the ones that have not already been emitted, marking them as
// emitted as it goes (I3/P4: at-most-once per (round, kind, value)).
func (k *Keeper) thresholds(round, currentRound consensus.Round) []ThresholdEvent {
	rv := k.roundState(round)
	var events []ThresholdEvent

	q := k.validators.Quorum()

	for value, weight := range rv.prevoteWeightByValue {
		if weight >= q && !value.IsNil() {
			if k.markEmitted(round, "polka-value", value) {
				events = append(events, PolkaValue{Round: round, Value: value})
			}
		}
	}
	if w := rv.prevoteWeightByValue[consensus.NilValueID]; w >= q {
		if k.markEmitted(round, "polka-nil", consensus.NilValueID) {
			events = append(events, PolkaNil{Round: round})
		}
	}
	if rv.prevotePower >= q {
		if k.markEmitted(round, "polka-any", consensus.NilValueID) {
			events = append(events, PolkaAny{Round: round})
		}
	}

	for value, weight := range rv.precommitWeightByValue {
		if weight >= q && !value.IsNil() {
			if k.markEmitted(round, "precommit-value", value) {
				events = append(events, PrecommitValue{Round: round, Value: value})
			}
		}
	}
	if rv.precommitPower >= q {
		if k.markEmitted(round, "precommit-any", consensus.NilValueID) {
			events = append(events, PrecommitAny{Round: round})
		}
	}

	if round > currentRound {
		if _, already := k.skipped[round]; !already {
			var power consensus.VotingPower
			for _, p := range rv.distinctVoters {
				power += p
			}
			if power >= k.validators.SkipThreshold() {
				k.skipped[round] = struct{}{}
				events = append(events, SkipRound{Round: round})
			}
		}
	}

	return events
}

func (k *Keeper) markEmitted(round consensus.Round, kind string, value consensus.ValueID) bool {
	key := thresholdKey{round: round, kind: kind, value: value}
	if _, ok := k.emitted[key]; ok {
		return false
	}
	k.emitted[key] = struct{}{}
	return true
}

// PrevotePowerFor returns the voting power accumulated for value in
// round, used by the driver to re-derive ProposalAndPolkaPrevious when
// a late-arriving proposal references an earlier round's polka.
func (k *Keeper) PrevotePowerFor(round consensus.Round, value consensus.ValueID) consensus.VotingPower {
	rv, ok := k.rounds[round]
	if !ok {
		return 0
	}
	return rv.prevoteWeightByValue[value]
}

// PrecommitPowerFor mirrors PrevotePowerFor for precommits, used by the
// driver to re-derive ProposalAndPrecommitValue for any round.
func (k *Keeper) PrecommitPowerFor(round consensus.Round, value consensus.ValueID) consensus.VotingPower {
	rv, ok := k.rounds[round]
	if !ok {
		return 0
	}
	return rv.precommitWeightByValue[value]
}

// Quorum exposes the Keeper's validator set quorum, used by the driver
// to decide whether a just-applied vote's power already cleared the
// bar without re-deriving it from the ValidatorSet directly.
func (k *Keeper) Quorum() consensus.VotingPower { return k.validators.Quorum() }

// Precommits returns every precommit vote stored for value in round, in
// validator-address order, for attaching to the Decide effect as the
// quorum's evidence (Glossary: "Decide ... carrying ... the precommits
// that formed the quorum").
func (k *Keeper) Precommits(round consensus.Round, value consensus.ValueID) []consensus.Vote {
	rv, ok := k.rounds[round]
	if !ok {
		return nil
	}
	var votes []consensus.Vote
	for _, record := range rv.votesByVoter {
		if record.precommit != nil && record.precommit.Value == value {
			votes = append(votes, *record.precommit)
		}
	}
	sort.Slice(votes, func(i, j int) bool {
		return string(votes[i].Voter[:]) < string(votes[j].Voter[:])
	})
	return votes
}
