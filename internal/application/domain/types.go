package domain

import "encoding/hex"

// Basic consensus types
type Epoch uint64
type Slot uint64
type ValidatorIndex uint64
type CommitteeIndex uint64

// Root is a 32-byte hash output.
type Root [32]byte

// Mix is the XOR-accumulated entropy held for one epoch in the history ring.
type Mix = Root

// Seed is a domain- and epoch-specific value used to drive the shuffle.
type Seed = Root

// BLSSignature is a compressed G2 signature.
type BLSSignature [96]byte

// BLSPubKey is a compressed G1 public key.
type BLSPubKey [48]byte

// String returns the 0x-prefixed hex encoding.
func (r Root) String() string {
	return "0x" + hex.EncodeToString(r[:])
}

// IsZero reports whether every byte is zero.
func (r Root) IsZero() bool {
	return r == Root{}
}

// EpochStartSlot returns the first slot of the epoch.
func EpochStartSlot(epoch Epoch, slotsPerEpoch uint64) Slot {
	return Slot(uint64(epoch) * slotsPerEpoch)
}

// Permutation is an ordering of validator indices, a bijection on [0, len).
type Permutation []ValidatorIndex

// Copy returns an independent copy of the permutation.
func (p Permutation) Copy() Permutation {
	if p == nil {
		return nil
	}
	out := make(Permutation, len(p))
	copy(out, p)
	return out
}

// Committee is one attestation committee of an epoch.
type Committee struct {
	Slot       Slot
	Index      CommitteeIndex
	Validators []ValidatorIndex
}

// ProposerDuty describes a scheduled block proposal for a validator.
type ProposerDuty struct {
	ValidatorIndex ValidatorIndex
	Slot           Slot
}

// AttesterDuty describes an attestation duty for a validator.
type AttesterDuty struct {
	ValidatorIndex        ValidatorIndex
	Slot                  Slot
	CommitteeIndex        CommitteeIndex
	ValidatorCommitteeIdx uint64
	CommitteeLength       uint64
	CommitteesAtSlot      uint64
}

// EpochDuties is the full duty roster computed for one target epoch.
type EpochDuties struct {
	Epoch Epoch
	// EpochProposer is the first entry of the permutation seeded by the epoch's proposer seed.
	EpochProposer ValidatorIndex
	Proposers     []ProposerDuty
	// SyncCommittee holds the first SyncCommitteeSize entries of the sync permutation.
	SyncCommittee    []ValidatorIndex
	Committees       []Committee
	CommitteesAtSlot uint64
	// Unassigned counts validators left out of every attestation committee.
	Unassigned uint64
}

// EpochCommittees maps:
//
//	slot -> committee-index -> list of validator indices in that committee
type EpochCommittees map[Slot]map[CommitteeIndex][]ValidatorIndex

// BySlot groups the committees by slot and index.
func (d *EpochDuties) BySlot() EpochCommittees {
	result := make(EpochCommittees)
	for _, c := range d.Committees {
		slotMap, ok := result[c.Slot]
		if !ok {
			slotMap = make(map[CommitteeIndex][]ValidatorIndex)
			result[c.Slot] = slotMap
		}
		slotMap[c.Index] = c.Validators
	}
	return result
}

// RandaoReveal is a proposer's signature over an epoch, as included in a block.
type RandaoReveal struct {
	Slot          Slot
	Epoch         Epoch
	ProposerIndex ValidatorIndex
	Signature     BLSSignature
}

// SigningContext carries the chain parameters mixed into the signature domain.
type SigningContext struct {
	ForkVersion           [4]byte
	GenesisValidatorsRoot Root
}

// MixEntry is one persisted ring slot.
type MixEntry struct {
	Epoch Epoch
	Mix   Mix
}

// ThresholdEntry is one persisted group signature.
type ThresholdEntry struct {
	Epoch     Epoch
	Signature BLSSignature
}
