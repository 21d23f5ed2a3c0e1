package randao

import (
	"encoding/binary"

	"github.com/Marketen/randao-duties/internal/application/domain"
)

// MixEpoch returns the epoch whose entropy seeds duties for target.
func MixEpoch(target domain.Epoch) domain.Epoch {
	if target < domain.MinSeedLookahead+1 {
		return 0
	}
	return target - domain.MinSeedLookahead - 1
}

// DeriveSeed computes Hash(domain || uint64_le(target) || raw), where raw is the delayed hash of
// the threshold signature at the mix epoch if present and the XOR mix otherwise.
func DeriveSeed(source MixSource, target domain.Epoch, d domain.DomainType) domain.Seed {
	mixEpoch := MixEpoch(target)

	var raw domain.Root
	if sig, ok := source.ReadThreshold(mixEpoch); ok {
		raw = ChainHash(sig[:], domain.DelayRounds)
	} else {
		raw = source.ReadMix(mixEpoch)
	}

	var epochBytes [8]byte
	binary.LittleEndian.PutUint64(epochBytes[:], uint64(target))
	return Hash(d[:], epochBytes[:], raw[:])
}
