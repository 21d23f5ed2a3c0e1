package shuffle

import (
	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"
)

// RemainderPolicy decides what happens to validators left over by integer-division committee sizing.
type RemainderPolicy int

const (
	// DropRemainder gives every committee n / total validators and leaves the rest unassigned.
	DropRemainder RemainderPolicy = iota
	// DistributeRemainder gives the first n % total committees one extra validator.
	DistributeRemainder
)

func (p RemainderPolicy) String() string {
	switch p {
	case DropRemainder:
		return "drop"
	case DistributeRemainder:
		return "distribute"
	default:
		return "unknown"
	}
}

// ParseRemainderPolicy maps a config string onto a RemainderPolicy.
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch s {
	case "", "drop":
		return DropRemainder, nil
	case "distribute":
		return DistributeRemainder, nil
	default:
		return DropRemainder, errors.Errorf("unknown remainder policy %q", s)
	}
}

// SelectProposer returns the first element of the permutation.
func SelectProposer(p domain.Permutation) (domain.ValidatorIndex, error) {
	if len(p) == 0 {
		return 0, domain.ErrEmptyPopulation
	}
	return p[0], nil
}

// SelectSyncCommittee returns a copy of the first size elements of the permutation.
func SelectSyncCommittee(p domain.Permutation, size uint64) ([]domain.ValidatorIndex, error) {
	if size > uint64(len(p)) {
		return nil, errors.Wrapf(domain.ErrOversizedCommittee, "requested %d of %d validators", size, len(p))
	}
	out := make([]domain.ValidatorIndex, size)
	copy(out, p[:size])
	return out, nil
}

// PartitionAttestationCommittees splits the permutation into committeesPerSlot*slotsPerEpoch
// contiguous blocks. Block k belongs to slot startSlot + k/committeesPerSlot and committee
// index k%committeesPerSlot. Every committee owns a copy of its validators.
// committeesPerSlot is bounded by MaxCommitteesPerSlot and slotsPerEpoch by MaxSlotsPerEpoch.
func PartitionAttestationCommittees(
	p domain.Permutation,
	committeesPerSlot, slotsPerEpoch uint64,
	startSlot domain.Slot,
	policy RemainderPolicy,
) ([]domain.Committee, error) {
	if committeesPerSlot == 0 || slotsPerEpoch == 0 {
		return nil, domain.ErrZeroCommittees
	}
	if committeesPerSlot > domain.MaxCommitteesPerSlot || slotsPerEpoch > domain.MaxSlotsPerEpoch {
		return nil, errors.Wrapf(domain.ErrTooManyCommittees, "%d committees per slot over %d slots", committeesPerSlot, slotsPerEpoch)
	}
	total := committeesPerSlot * slotsPerEpoch
	n := uint64(len(p))
	size := n / total
	remainder := n % total

	committees := make([]domain.Committee, 0, total)
	var start uint64
	for k := uint64(0); k < total; k++ {
		end := start + size
		if policy == DistributeRemainder && k < remainder {
			end++
		}
		members := make([]domain.ValidatorIndex, end-start)
		copy(members, p[start:end])
		committees = append(committees, domain.Committee{
			Slot:       startSlot + domain.Slot(k/committeesPerSlot),
			Index:      domain.CommitteeIndex(k % committeesPerSlot),
			Validators: members,
		})
		start = end
	}
	return committees, nil
}

// CommitteeCount returns the committees per slot for an active validator count:
// clamp(active / slotsPerEpoch / TargetCommitteeSize, 1, MaxCommitteesPerSlot).
func CommitteeCount(activeCount, slotsPerEpoch uint64) uint64 {
	if slotsPerEpoch == 0 {
		slotsPerEpoch = domain.SlotsPerEpoch
	}
	count := activeCount / slotsPerEpoch / domain.TargetCommitteeSize
	if count == 0 {
		return 1
	}
	if count > domain.MaxCommitteesPerSlot {
		return domain.MaxCommitteesPerSlot
	}
	return count
}

// Participation marks every validator that sits in at least one committee.
func Participation(committees []domain.Committee, n uint64) bitfield.Bitlist {
	bits := bitfield.NewBitlist(n)
	for _, c := range committees {
		for _, v := range c.Validators {
			if uint64(v) < n {
				bits.SetBitAt(uint64(v), true)
			}
		}
	}
	return bits
}

// Unassigned returns how many of the n validators sit in no committee.
func Unassigned(committees []domain.Committee, n uint64) uint64 {
	return n - Participation(committees, n).Count()
}
