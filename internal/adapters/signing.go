package adapters

import (
	"encoding/binary"

	"github.com/Marketen/randao-duties/internal/application/domain"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
)

// ComputeDomain mixes the fork version and genesis validators root into a domain type:
// domain_type || hash_tree_root(ForkData)[:28].
func ComputeDomain(domainType domain.DomainType, sctx domain.SigningContext) (phase0.Domain, error) {
	forkData := &phase0.ForkData{
		CurrentVersion:        phase0.Version(sctx.ForkVersion),
		GenesisValidatorsRoot: phase0.Root(sctx.GenesisValidatorsRoot),
	}
	root, err := forkData.HashTreeRoot()
	if err != nil {
		return phase0.Domain{}, errors.Wrap(err, "could not hash fork data")
	}
	var d phase0.Domain
	copy(d[:4], domainType[:])
	copy(d[4:], root[:28])
	return d, nil
}

// EpochSigningRoot returns the message a proposer signs for its RANDAO reveal:
// hash_tree_root(SigningData{hash_tree_root(epoch), domain}).
func EpochSigningRoot(epoch domain.Epoch, sctx domain.SigningContext) ([32]byte, error) {
	d, err := ComputeDomain(domain.DomainRandao, sctx)
	if err != nil {
		return [32]byte{}, err
	}
	var objectRoot phase0.Root
	binary.LittleEndian.PutUint64(objectRoot[:8], uint64(epoch))
	signingData := &phase0.SigningData{
		ObjectRoot: objectRoot,
		Domain:     d,
	}
	root, err := signingData.HashTreeRoot()
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "could not hash signing data")
	}
	return root, nil
}
