package domain

import "fmt"

const (
	// HistoryLen is the number of epochs of mixes kept in the ring. Must be a power of two.
	HistoryLen = 1 << 16
	// MinSeedLookahead is the gap between the epoch whose mix is read and the epoch it seeds.
	MinSeedLookahead = Epoch(1)
	// DelayRounds is the number of extra hash rounds applied to a threshold signature.
	DelayRounds = 1

	SlotsPerEpoch        = uint64(32)
	MaxSlotsPerEpoch     = uint64(8192)
	MaxCommitteesPerSlot = uint64(64)
	TargetCommitteeSize  = uint64(128)
	SyncCommitteeSize    = uint64(512)
)

// DomainType is the 4-byte discriminator hashed ahead of every seed.
type DomainType [4]byte

var (
	DomainBeaconProposer = DomainType{0x00, 0x00, 0x00, 0x00}
	DomainBeaconAttester = DomainType{0x01, 0x00, 0x00, 0x00}
	DomainRandao         = DomainType{0x02, 0x00, 0x00, 0x00}
)

func (d DomainType) String() string {
	switch d {
	case DomainBeaconProposer:
		return "proposer"
	case DomainBeaconAttester:
		return "attester"
	case DomainRandao:
		return "randao"
	default:
		return fmt.Sprintf("domain(%#x)", d[:])
	}
}

// BLSDST is the hash-to-curve domain separation tag for proof-of-possession BLS signatures.
var BLSDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")
