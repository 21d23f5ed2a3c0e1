package ports

import (
	"context"

	"github.com/Marketen/randao-duties/internal/application/domain"
)

// BeaconChainAdapter is the hexagonal port for accessing beacon chain data.
// The duties scheduler depends only on this interface, not on any concrete client.
type BeaconChainAdapter interface {
	// GetFinalizedEpoch returns the latest finalized epoch known by the node.
	GetFinalizedEpoch(ctx context.Context) (domain.Epoch, error)

	// GetEpochRandaoReveals returns the RANDAO reveal of every block proposed in an epoch.
	// Missed slots are skipped.
	GetEpochRandaoReveals(ctx context.Context, epoch domain.Epoch) ([]domain.RandaoReveal, error)

	// GetValidatorPubkeys returns the BLS public keys of the given validators.
	GetValidatorPubkeys(
		ctx context.Context,
		indices []domain.ValidatorIndex,
	) (map[domain.ValidatorIndex]domain.BLSPubKey, error)

	// GetSigningContext returns the fork version and genesis validators root used in signature domains.
	GetSigningContext(ctx context.Context) (domain.SigningContext, error)

	// GetActiveValidatorCount returns the number of active validators at head.
	GetActiveValidatorCount(ctx context.Context) (uint64, error)
}
