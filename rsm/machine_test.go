package rsm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/rsm"
)

var _ = Describe("Machine", func() {
	var value consensus.Value

	BeforeEach(func() {
		value = consensus.Value("a proposed value")
	})

	Context("entering round 0 as the proposer", func() {
		It("requests a value and arms the propose timeout when nothing is valid yet", func() {
			m := rsm.NewMachine()
			m.EnterRound(0)
			out, err := m.Apply(rsm.NewRound{IsProposer: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{
				rsm.RequestValueOutput{},
				rsm.ScheduleTimeoutOutput{Kind: consensus.TimeoutPropose},
			}))
		})

		It("re-broadcasts its valid value when one is set", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{
				Round:       2,
				Step:        consensus.StepUnstarted,
				LockedRound: consensus.InvalidRound,
				ValidValue:  value,
				ValidRound:  1,
			})
			m.EnterRound(2)
			out, err := m.Apply(rsm.NewRound{IsProposer: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastProposal{Value: value, ValidRound: consensus.Round(1)}}))
		})
	})

	Context("entering a round as a non-proposer", func() {
		It("schedules a propose timeout", func() {
			m := rsm.NewMachine()
			m.EnterRound(0)
			out, err := m.Apply(rsm.NewRound{IsProposer: false})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.ScheduleTimeoutOutput{Kind: consensus.TimeoutPropose}}))
		})
	})

	Context("receiving a valid proposal while unlocked", func() {
		It("prevotes for the value and advances to prevote", func() {
			m := rsm.NewMachine()
			m.EnterRound(0)
			out, err := m.Apply(rsm.Proposal{Value: value, ValidRound: consensus.InvalidRound, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrevoteType, Value: consensus.ComputeValueID(value)}}))
			Expect(m.State().Step).To(Equal(consensus.StepPrevote))
		})
	})

	Context("receiving an invalid proposal", func() {
		It("prevotes nil", func() {
			m := rsm.NewMachine()
			m.EnterRound(0)
			out, err := m.Apply(rsm.Proposal{Value: value, ValidRound: consensus.InvalidRound, Valid: false})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrevoteType, Value: consensus.NilValueID}}))
		})
	})

	Context("receiving a valid proposal for a value locked on something else", func() {
		It("prevotes nil", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{
				Round:       1,
				Step:        consensus.StepPropose,
				LockedValue: consensus.Value("locked value"),
				LockedRound: 0,
				ValidRound:  consensus.InvalidRound,
			})
			out, err := m.Apply(rsm.Proposal{Value: value, ValidRound: consensus.InvalidRound, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrevoteType, Value: consensus.NilValueID}}))
		})
	})

	Context("a proposal carrying an earlier valid round (re-proposal)", func() {
		It("re-prevotes the unlocked value when the attached valid round is recent enough", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{
				Round:       3,
				Step:        consensus.StepPropose,
				LockedValue: consensus.Value("some other value"),
				LockedRound: 1,
				ValidRound:  consensus.InvalidRound,
			})
			// LockedRound(1) <= ValidRound(2): the lock is old enough to
			// release in favor of the re-proposed value (spec.md L28's
			// vr >= lockedRound branch of the L22/L28 shared guard).
			out, err := m.Apply(rsm.ProposalAndPolkaPrevious{Value: value, ValidRound: 2, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrevoteType, Value: consensus.ComputeValueID(value)}}))
			Expect(m.State().Step).To(Equal(consensus.StepPrevote))
		})

		It("re-prevotes for the value it is already locked on even if the lock is newer than the valid round", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{
				Round:       3,
				Step:        consensus.StepPropose,
				LockedValue: value,
				LockedRound: 2,
				ValidRound:  consensus.InvalidRound,
			})
			// LockedRound(2) > ValidRound(0), but LockedValue == V: the
			// LV=V branch of the guard still permits re-prevoting it.
			out, err := m.Apply(rsm.ProposalAndPolkaPrevious{Value: value, ValidRound: 0, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrevoteType, Value: consensus.ComputeValueID(value)}}))
		})

		It("prevotes nil when locked on a different value newer than the valid round", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{
				Round:       3,
				Step:        consensus.StepPropose,
				LockedValue: consensus.Value("some other value"),
				LockedRound: 2,
				ValidRound:  consensus.InvalidRound,
			})
			// LockedRound(2) > ValidRound(0) and LockedValue != V: the
			// lock is not releasable, so the process must prevote nil.
			out, err := m.Apply(rsm.ProposalAndPolkaPrevious{Value: value, ValidRound: 0, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrevoteType, Value: consensus.NilValueID}}))
		})

		It("ignores a valid round that is not strictly less than the current round", func() {
			m := rsm.NewMachine()
			m.EnterRound(3)
			out, err := m.Apply(rsm.ProposalAndPolkaPrevious{Value: value, ValidRound: 3, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
		})

		It("is a no-op outside the propose step", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{Round: 3, Step: consensus.StepPrevote, LockedRound: consensus.InvalidRound, ValidRound: consensus.InvalidRound})
			out, err := m.Apply(rsm.ProposalAndPolkaPrevious{Value: value, ValidRound: 1, Valid: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
		})
	})

	Context("a polka for the current round with a matching proposal", func() {
		It("locks the value and broadcasts a precommit", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{
				Round:       0,
				Step:        consensus.StepPrevote,
				LockedRound: consensus.InvalidRound,
				ValidRound:  consensus.InvalidRound,
			})
			out, err := m.Apply(rsm.ProposalAndPolkaCurrent{Value: value})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrecommitType, Value: consensus.ComputeValueID(value)}}))
			Expect(m.State().LockedValue).To(Equal(value))
			Expect(m.State().Step).To(Equal(consensus.StepPrecommit))
		})

		It("fires only once per round", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{Round: 0, Step: consensus.StepPrevote, LockedRound: consensus.InvalidRound, ValidRound: consensus.InvalidRound})
			_, err := m.Apply(rsm.ProposalAndPolkaCurrent{Value: value})
			Expect(err).NotTo(HaveOccurred())
			out, err := m.Apply(rsm.ProposalAndPolkaCurrent{Value: value})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
		})
	})

	Context("a polka for nil", func() {
		It("broadcasts a nil precommit", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{Round: 0, Step: consensus.StepPrevote, LockedRound: consensus.InvalidRound, ValidRound: consensus.InvalidRound})
			out, err := m.Apply(rsm.PolkaNil{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.BroadcastVote{Type: consensus.PrecommitType, Value: consensus.NilValueID}}))
		})
	})

	Context("a precommit timeout while in progress", func() {
		It("starts the next round", func() {
			m := rsm.NewMachine()
			m.Restore(rsm.RoundState{Round: 3, Step: consensus.StepPrecommit, LockedRound: consensus.InvalidRound, ValidRound: consensus.InvalidRound})
			out, err := m.Apply(rsm.TimeoutPrecommit{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.StartNewRound{Round: 4}}))
		})
	})

	Context("skip round evidence", func() {
		It("ignores evidence for the current or a past round", func() {
			m := rsm.NewMachine()
			m.EnterRound(2)
			out, err := m.Apply(rsm.SkipRound{Round: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
		})

		It("starts a higher round on evidence alone", func() {
			m := rsm.NewMachine()
			m.EnterRound(2)
			out, err := m.Apply(rsm.SkipRound{Round: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.StartNewRound{Round: 5}}))
		})
	})

	Context("a decisive precommit quorum", func() {
		It("decides regardless of the current step", func() {
			m := rsm.NewMachine()
			m.EnterRound(0)
			out, err := m.Apply(rsm.ProposalAndPrecommitValue{Value: value, Round: 0})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]rsm.Output{rsm.Decide{Value: value, Round: 0}}))
		})
	})
})
