package consensus

import (
	"fmt"
	"io"
	"sort"

	"github.com/renproject/surge"
)

// VotingPower is a non-negative quantity of stake/weight carried by a
// validator.
type VotingPower int64

// Validator is one member of a ValidatorSet.
type Validator struct {
	Address     Address
	PublicKey   PublicKey
	VotingPower VotingPower
}

// ValidatorSet is the known, ordered set of validators for a height. It
// is immutable once constructed: per spec.md §4.3, the driver only ever
// consults a new ValidatorSet at StartHeight, never mid-height.
type ValidatorSet struct {
	validators []Validator
	byAddress  map[Address]int
	totalPower VotingPower
}

// NewValidatorSet builds a ValidatorSet from an unordered slice of
// Validators, sorting by address so that ProposerSelector
// implementations are deterministic across processes regardless of
// input order.
func NewValidatorSet(validators []Validator) ValidatorSet {
	sorted := make([]Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].Address[:]) < string(sorted[j].Address[:])
	})

	byAddress := make(map[Address]int, len(sorted))
	total := VotingPower(0)
	for i, v := range sorted {
		byAddress[v.Address] = i
		total += v.VotingPower
	}
	return ValidatorSet{
		validators: sorted,
		byAddress:  byAddress,
		totalPower: total,
	}
}

// Len returns the number of validators in the set.
func (vs ValidatorSet) Len() int { return len(vs.validators) }

// At returns the i'th validator in deterministic (address-sorted)
// order. Used by proposer selection, which must be a pure function of
// (ValidatorSet, Height, Round).
func (vs ValidatorSet) At(i int) Validator { return vs.validators[i%len(vs.validators)] }

// Get looks up a validator by address.
func (vs ValidatorSet) Get(addr Address) (Validator, bool) {
	i, ok := vs.byAddress[addr]
	if !ok {
		return Validator{}, false
	}
	return vs.validators[i], true
}

// TotalVotingPower is N, the sum of every validator's voting power.
func (vs ValidatorSet) TotalVotingPower() VotingPower { return vs.totalPower }

// FaultTolerance is f = floor((N-1)/3), the maximum Byzantine voting
// power the set can withstand while preserving safety.
func (vs ValidatorSet) FaultTolerance() VotingPower {
	if vs.totalPower == 0 {
		return 0
	}
	return (vs.totalPower - 1) / 3
}

// Quorum is q = N - f, satisfying q >= 2f+1.
func (vs ValidatorSet) Quorum() VotingPower {
	return vs.totalPower - vs.FaultTolerance()
}

// SkipThreshold is f+1, the voting power needed to justify skipping to
// a higher round on evidence alone.
func (vs ValidatorSet) SkipThreshold() VotingPower {
	return vs.FaultTolerance() + 1
}

// HasQuorum reports whether power meets or exceeds q.
func (vs ValidatorSet) HasQuorum(power VotingPower) bool {
	return power >= vs.Quorum()
}

// SizeHint, Marshal and Unmarshal let a ValidatorSet be framed into a
// WAL checkpoint record alongside the StartHeight input that introduced
// it, the way replica.Message frames a process.Message (replica/marshal.go).
func (vs ValidatorSet) SizeHint() int {
	size := surge.SizeHint(uint32(len(vs.validators)))
	for _, v := range vs.validators {
		size += v.SizeHint()
	}
	return size
}

func (vs ValidatorSet) Marshal(w io.Writer, m int) (int, error) {
	m, err := surge.Marshal(w, uint32(len(vs.validators)), m)
	if err != nil {
		return m, err
	}
	for _, v := range vs.validators {
		if m, err = v.Marshal(w, m); err != nil {
			return m, err
		}
	}
	return m, nil
}

func (vs *ValidatorSet) Unmarshal(r io.Reader, m int) (int, error) {
	var n uint32
	m, err := surge.Unmarshal(r, &n, m)
	if err != nil {
		return m, err
	}
	validators := make([]Validator, n)
	for i := range validators {
		if m, err = validators[i].Unmarshal(r, m); err != nil {
			return m, err
		}
	}
	*vs = NewValidatorSet(validators)
	return m, nil
}

func (v Validator) SizeHint() int {
	return surge.SizeHint(v.Address) + surge.SizeHint(v.PublicKey) + surge.SizeHint(int64(v.VotingPower))
}

func (v Validator) Marshal(w io.Writer, m int) (int, error) {
	m, err := surge.Marshal(w, v.Address, m)
	if err != nil {
		return m, err
	}
	if m, err = surge.Marshal(w, v.PublicKey, m); err != nil {
		return m, err
	}
	return surge.Marshal(w, int64(v.VotingPower), m)
}

func (v *Validator) Unmarshal(r io.Reader, m int) (int, error) {
	m, err := surge.Unmarshal(r, &v.Address, m)
	if err != nil {
		return m, err
	}
	if m, err = surge.Unmarshal(r, &v.PublicKey, m); err != nil {
		return m, err
	}
	var power int64
	m, err = surge.Unmarshal(r, &power, m)
	v.VotingPower = VotingPower(power)
	return m, err
}

// Validate returns an error if the set violates the invariants a
// ValidatorSet must hold to run consensus: at least one validator,
// every validator present exactly once, and no negative voting power.
// Mirrors the teacher's
// invariant-violation panics in replica.New / replica.Rebase, which
// reject node counts that cannot satisfy 3f+1.
func (vs ValidatorSet) Validate() error {
	if len(vs.validators) == 0 {
		return fmt.Errorf("invariant violation: empty validator set")
	}
	seen := make(map[Address]struct{}, len(vs.validators))
	for _, v := range vs.validators {
		if _, dup := seen[v.Address]; dup {
			return fmt.Errorf("invariant violation: duplicate validator %v", v.Address)
		}
		seen[v.Address] = struct{}{}
		if v.VotingPower < 0 {
			return fmt.Errorf("invariant violation: negative voting power for %v", v.Address)
		}
	}
	return nil
}
