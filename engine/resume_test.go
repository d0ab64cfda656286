package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/velabft/core/consensus"
	"github.com/velabft/core/effect"
	"github.com/velabft/core/engine"
	"github.com/velabft/core/internal/mocks"
	"github.com/velabft/core/wal"
)

var _ = Describe("Runtime.Resume", func() {
	It("recovers round state from the WAL and re-arms the outstanding timeout", func() {
		addrs, vs := fourEqualValidators()
		self := addrs[1] // not the proposer, so StartHeight schedules a propose timeout

		store, err := wal.NewFileStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		newRuntime := func(timer *mocks.Timer) *engine.Runtime {
			collab := engine.Collaborators{
				Signer:         &mocks.Signer{},
				Proposer:       &mocks.ProposerSelector{Addr: addrs[0]},
				ValueProvider:  &mocks.ValueProvider{},
				ValueValidator: &mocks.ValueValidator{},
				Timer:          timer,
				Broadcasters:   []effect.Broadcaster{&mocks.Broadcaster{}},
				ValidatorSets:  &mocks.ValidatorSetProvider{Default: vs},
			}
			return engine.New(self, collab, store, engine.Options{}, nil)
		}

		live := newRuntime(&mocks.Timer{})
		Expect(live.StartHeight(1)).To(Succeed())

		recoveredTimer := &mocks.Timer{}
		recovered := newRuntime(recoveredTimer)
		Expect(recovered.Resume(1)).To(Succeed())

		Expect(recovered.Height()).To(Equal(consensus.Height(1)))
		Expect(recovered.Round()).To(Equal(consensus.Round(0)))
		Expect(recoveredTimer.Scheduled).To(HaveLen(1))
		Expect(recoveredTimer.Scheduled[0].Kind).To(Equal(consensus.TimeoutPropose))
	})
})
