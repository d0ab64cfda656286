package driver_test

import (
	"errors"

	"github.com/renproject/id"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/driver"
	"github.com/velabft/core/effect"
)

// fixedProposer always names the same address as proposer(H, R),
// letting tests pin who proposes without depending on RoundRobinProposer's
// exact weighting.
type fixedProposer struct{ addr consensus.Address }

func (f fixedProposer) Proposer(consensus.ValidatorSet, consensus.Height, consensus.Round) consensus.Address {
	return f.addr
}

// proposerByRound names a different proposer per round, for scenarios
// that need to walk through several failed rounds with a known
// proposer at each.
type proposerByRound struct{ byRound map[consensus.Round]consensus.Address }

func (p proposerByRound) Proposer(_ consensus.ValidatorSet, _ consensus.Height, r consensus.Round) consensus.Address {
	return p.byRound[r]
}

func fourEqualValidators() ([]consensus.Address, consensus.ValidatorSet) {
	addrs := make([]consensus.Address, 4)
	validators := make([]consensus.Validator, 4)
	for i := range addrs {
		addrs[i] = id.NewPrivKey().Signatory()
		validators[i] = consensus.Validator{Address: addrs[i], VotingPower: 1}
	}
	return addrs, consensus.NewValidatorSet(validators)
}

func findEffect[T any](effects []effect.Effect) (T, bool) {
	for _, e := range effects {
		if te, ok := e.(T); ok {
			return te, true
		}
	}
	var zero T
	return zero, false
}

var _ = Describe("Driver", func() {
	var (
		addrs []consensus.Address
		vs    consensus.ValidatorSet
	)

	BeforeEach(func() {
		addrs, vs = fourEqualValidators()
	})

	Context("starting a height as proposer with no valid value", func() {
		It("requests a value to propose and arms a propose timeout so a slow ValueProvider cannot stall the round", func() {
			d := driver.New(addrs[0], fixedProposer{addr: addrs[0]}, driver.Options{})
			effects, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())
			_, ok := findEffect[effect.RequestValue](effects)
			Expect(ok).To(BeTrue())
			timeout, ok := findEffect[effect.ScheduleTimeout](effects)
			Expect(ok).To(BeTrue())
			Expect(timeout.Kind).To(Equal(consensus.TimeoutPropose))
		})
	})

	Context("starting a height as a non-proposer", func() {
		It("schedules a propose timeout", func() {
			d := driver.New(addrs[1], fixedProposer{addr: addrs[0]}, driver.Options{})
			effects, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())
			timeout, ok := findEffect[effect.ScheduleTimeout](effects)
			Expect(ok).To(BeTrue())
			Expect(timeout.Kind).To(Equal(consensus.TimeoutPropose))
		})
	})

	Context("a full round reaching a decision", func() {
		It("decides once a quorum of precommits is observed", func() {
			self := addrs[0]
			d := driver.New(self, fixedProposer{addr: self}, driver.Options{})

			effects, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())
			_, ok := findEffect[effect.RequestValue](effects)
			Expect(ok).To(BeTrue())

			value := consensus.Value("decided value")
			effects, err = d.HandleProposeValue(1, 0, value)
			Expect(err).NotTo(HaveOccurred())
			bp, ok := findEffect[effect.BroadcastProposal](effects)
			Expect(ok).To(BeTrue())
			Expect(bp.Proposal.Value).To(Equal(value))

			sp := consensus.SignedProposal{Proposal: bp.Proposal, Proposer: self}
			_, err = d.HandleProposal(sp)
			Expect(err).NotTo(HaveOccurred())

			effects, err = d.HandleProposedValue(1, 0, value, true)
			Expect(err).NotTo(HaveOccurred())
			selfPrevote, ok := findEffect[effect.BroadcastVote](effects)
			Expect(ok).To(BeTrue()) // self's own prevote, from the Proposal row firing

			vid := consensus.ComputeValueID(value)
			// A real interpreter loops a process's own broadcast back to
			// it (effect.Broadcaster: "including back to this process").
			_, err = d.HandleVote(consensus.SignedVote{Vote: selfPrevote.Vote})
			Expect(err).NotTo(HaveOccurred())

			var lastEffects []effect.Effect
			for i := 1; i < 3; i++ {
				lastEffects, err = d.HandleVote(consensus.SignedVote{
					Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 0, Value: vid, Voter: addrs[i]},
				})
				Expect(err).NotTo(HaveOccurred())
			}
			precommit, ok := findEffect[effect.BroadcastVote](lastEffects)
			Expect(ok).To(BeTrue())
			Expect(precommit.Vote.Type).To(Equal(consensus.PrecommitType))
			Expect(precommit.Vote.Value).To(Equal(vid))

			_, err = d.HandleVote(consensus.SignedVote{Vote: precommit.Vote})
			Expect(err).NotTo(HaveOccurred())

			for i := 1; i < 3; i++ {
				lastEffects, err = d.HandleVote(consensus.SignedVote{
					Vote: consensus.Vote{Type: consensus.PrecommitType, Height: 1, Round: 0, Value: vid, Voter: addrs[i]},
				})
				Expect(err).NotTo(HaveOccurred())
			}
			decide, ok := findEffect[effect.Decide](lastEffects)
			Expect(ok).To(BeTrue())
			Expect(decide.Value).To(Equal(value))
			Expect(decide.Round).To(Equal(consensus.Round(0)))
		})
	})

	// These two specs exercise spec.md §8 scenario 4 ("Lock-and-unlock")
	// end to end through driver.Driver: the lock-monotonicity guard
	// (LockedRound <= ValidRound, OR LockedValue == the re-proposed
	// value) that onProposalAndPolkaPrevious enforces is the one guard
	// encoding the safety-critical interplay between a process's lock
	// and a later round's valid-round claim, so it is covered here in
	// addition to the rsm.Machine-level specs in rsm/machine_test.go.
	Context("a lock-and-unlock sequence across rounds", func() {
		It("releases an old lock and re-prevotes a later round's polka value", func() {
			self := addrs[0]
			d := driver.New(self, proposerByRound{byRound: map[consensus.Round]consensus.Address{
				0: self, 1: addrs[1], 2: addrs[2],
			}}, driver.Options{})

			valueA := consensus.Value("round 0 value")
			valueB := consensus.Value("round 1 value")
			vidB := consensus.ComputeValueID(valueB)

			_, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())

			// Round 0: self proposes and locks valueA.
			effects, err := d.HandleProposeValue(1, 0, valueA)
			Expect(err).NotTo(HaveOccurred())
			bp, ok := findEffect[effect.BroadcastProposal](effects)
			Expect(ok).To(BeTrue())
			_, err = d.HandleProposal(consensus.SignedProposal{Proposal: bp.Proposal, Proposer: self})
			Expect(err).NotTo(HaveOccurred())
			effects, err = d.HandleProposedValue(1, 0, valueA, true)
			Expect(err).NotTo(HaveOccurred())
			selfPrevote, ok := findEffect[effect.BroadcastVote](effects)
			Expect(ok).To(BeTrue())
			_, err = d.HandleVote(consensus.SignedVote{Vote: selfPrevote.Vote})
			Expect(err).NotTo(HaveOccurred())

			vidA := consensus.ComputeValueID(valueA)
			var lastEffects []effect.Effect
			for i := 1; i < 3; i++ {
				lastEffects, err = d.HandleVote(consensus.SignedVote{
					Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 0, Value: vidA, Voter: addrs[i]},
				})
				Expect(err).NotTo(HaveOccurred())
			}
			precommit, ok := findEffect[effect.BroadcastVote](lastEffects)
			Expect(ok).To(BeTrue())
			Expect(precommit.Vote.Type).To(Equal(consensus.PrecommitType))
			_, err = d.HandleVote(consensus.SignedVote{Vote: precommit.Vote})
			Expect(err).NotTo(HaveOccurred())
			// Only one more precommit: not a quorum, so round 0 times out
			// instead of deciding.
			_, err = d.HandleVote(consensus.SignedVote{
				Vote: consensus.Vote{Type: consensus.PrecommitType, Height: 1, Round: 0, Value: vidA, Voter: addrs[1]},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPrecommit, 1, 0)
			Expect(err).NotTo(HaveOccurred())
			// self is now locked on (valueA, round 0) and round 1's
			// proposer (addrs[1]) is up.

			// A round-1 polka for a different value, valueB, forms
			// without self ever seeing a round-1 proposal.
			for i := 1; i < 4; i++ {
				_, err = d.HandleVote(consensus.SignedVote{
					Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 1, Value: vidB, Voter: addrs[i]},
				})
				Expect(err).NotTo(HaveOccurred())
			}
			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPropose, 1, 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPrevote, 1, 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPrecommit, 1, 1)
			Expect(err).NotTo(HaveOccurred())
			// Round 2's proposer (addrs[2]) is up.

			// Round 2's proposer re-proposes valueB, citing round 1's
			// polka: LockedRound(0) <= ValidRound(1), so the lock from
			// round 0 is old enough to release.
			_, err = d.HandleProposal(consensus.SignedProposal{
				Proposal: consensus.Proposal{Height: 1, Round: 2, Value: valueB, ValidRound: 1},
				Proposer: addrs[2],
			})
			Expect(err).NotTo(HaveOccurred())
			effects, err = d.HandleProposedValue(1, 2, valueB, true)
			Expect(err).NotTo(HaveOccurred())
			prevote, ok := findEffect[effect.BroadcastVote](effects)
			Expect(ok).To(BeTrue())
			Expect(prevote.Vote.Type).To(Equal(consensus.PrevoteType))
			Expect(prevote.Vote.Value).To(Equal(vidB))
		})

		It("re-prevotes its own locked value even though the lock is newer than the cited valid round", func() {
			self := addrs[0]
			d := driver.New(self, proposerByRound{byRound: map[consensus.Round]consensus.Address{
				0: self, 1: addrs[1], 2: addrs[2],
			}}, driver.Options{})

			valueC := consensus.Value("locked value")
			vidC := consensus.ComputeValueID(valueC)

			_, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())

			// Round 0 times out without a proposal ever arriving.
			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPropose, 1, 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPrevote, 1, 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPrecommit, 1, 0)
			Expect(err).NotTo(HaveOccurred())

			// Round 1: addrs[1] proposes valueC; self locks on it.
			_, err = d.HandleProposal(consensus.SignedProposal{
				Proposal: consensus.Proposal{Height: 1, Round: 1, Value: valueC, ValidRound: consensus.InvalidRound},
				Proposer: addrs[1],
			})
			Expect(err).NotTo(HaveOccurred())
			effects, err := d.HandleProposedValue(1, 1, valueC, true)
			Expect(err).NotTo(HaveOccurred())
			selfPrevote, ok := findEffect[effect.BroadcastVote](effects)
			Expect(ok).To(BeTrue())
			_, err = d.HandleVote(consensus.SignedVote{Vote: selfPrevote.Vote})
			Expect(err).NotTo(HaveOccurred())

			var lastEffects []effect.Effect
			for _, i := range []int{2, 3} {
				lastEffects, err = d.HandleVote(consensus.SignedVote{
					Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 1, Value: vidC, Voter: addrs[i]},
				})
				Expect(err).NotTo(HaveOccurred())
			}
			precommit, ok := findEffect[effect.BroadcastVote](lastEffects)
			Expect(ok).To(BeTrue())
			Expect(precommit.Vote.Type).To(Equal(consensus.PrecommitType))
			_, err = d.HandleVote(consensus.SignedVote{Vote: precommit.Vote})
			Expect(err).NotTo(HaveOccurred())
			// Only one more precommit: not a quorum.
			_, err = d.HandleVote(consensus.SignedVote{
				Vote: consensus.Vote{Type: consensus.PrecommitType, Height: 1, Round: 1, Value: vidC, Voter: addrs[1]},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleTimeoutElapsed(consensus.TimeoutPrecommit, 1, 1)
			Expect(err).NotTo(HaveOccurred())
			// self is now locked on (valueC, round 1); addrs[2] is
			// round 2's proposer.

			// A round-0 polka for valueC is observed independently of
			// self's own round-0 timeout (e.g. other validators saw a
			// round-0 proposal self never received).
			for i := 1; i < 4; i++ {
				_, err = d.HandleVote(consensus.SignedVote{
					Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 0, Value: vidC, Voter: addrs[i]},
				})
				Expect(err).NotTo(HaveOccurred())
			}

			// Round 2's proposer re-proposes valueC, citing round 0's
			// polka: LockedRound(1) > ValidRound(0), so the LR<=vr
			// branch fails, but LockedValue == valueC lets self
			// re-prevote its own lock anyway.
			_, err = d.HandleProposal(consensus.SignedProposal{
				Proposal: consensus.Proposal{Height: 1, Round: 2, Value: valueC, ValidRound: 0},
				Proposer: addrs[2],
			})
			Expect(err).NotTo(HaveOccurred())
			effects, err = d.HandleProposedValue(1, 2, valueC, true)
			Expect(err).NotTo(HaveOccurred())
			prevote, ok := findEffect[effect.BroadcastVote](effects)
			Expect(ok).To(BeTrue())
			Expect(prevote.Vote.Type).To(Equal(consensus.PrevoteType))
			Expect(prevote.Vote.Value).To(Equal(vidC))
		})
	})

	Context("a proposal from a non-proposer", func() {
		It("is rejected", func() {
			d := driver.New(addrs[0], fixedProposer{addr: addrs[0]}, driver.Options{})
			_, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleProposal(consensus.SignedProposal{
				Proposal: consensus.Proposal{Height: 1, Round: 0, Value: consensus.Value("x"), ValidRound: consensus.InvalidRound},
				Proposer: addrs[1],
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("equivocating input", func() {
		It("surfaces a MisbehaviorError for a voter that casts two conflicting prevotes in the same round", func() {
			d := driver.New(addrs[0], fixedProposer{addr: addrs[0]}, driver.Options{})
			_, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleVote(consensus.SignedVote{
				Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 0, Value: consensus.ComputeValueID(consensus.Value("a")), Voter: addrs[1]},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleVote(consensus.SignedVote{
				Vote: consensus.Vote{Type: consensus.PrevoteType, Height: 1, Round: 0, Value: consensus.ComputeValueID(consensus.Value("b")), Voter: addrs[1]},
			})
			var misbehavior *consensus.MisbehaviorError
			Expect(errors.As(err, &misbehavior)).To(BeTrue())
		})

		It("surfaces a MisbehaviorError for a proposer that sends two distinct proposals in the same round", func() {
			d := driver.New(addrs[0], fixedProposer{addr: addrs[1]}, driver.Options{})
			_, err := d.StartHeight(1, vs)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleProposal(consensus.SignedProposal{
				Proposal: consensus.Proposal{Height: 1, Round: 0, Value: consensus.Value("a"), ValidRound: consensus.InvalidRound},
				Proposer: addrs[1],
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = d.HandleProposal(consensus.SignedProposal{
				Proposal: consensus.Proposal{Height: 1, Round: 0, Value: consensus.Value("b"), ValidRound: consensus.InvalidRound},
				Proposer: addrs[1],
			})
			var misbehavior *consensus.MisbehaviorError
			Expect(errors.As(err, &misbehavior)).To(BeTrue())
		})
	})
})
