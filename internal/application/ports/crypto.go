package ports

import (
	"context"

	"github.com/Marketen/randao-duties/internal/application/domain"
)

// RevealVerifier checks a proposer's RANDAO reveal for an epoch.
// Implementations return an error wrapping domain.ErrVerificationFailed on a bad signature.
type RevealVerifier interface {
	VerifyReveal(
		pubkey domain.BLSPubKey,
		epoch domain.Epoch,
		sig domain.BLSSignature,
		sctx domain.SigningContext,
	) error
}

// ThresholdVerifier checks an aggregated group signature over an epoch.
type ThresholdVerifier interface {
	VerifyGroupSignature(epoch domain.Epoch, sig domain.BLSSignature) error
}

// ThresholdSource delivers recovered group signatures. ok is false while none is available for the epoch.
type ThresholdSource interface {
	GetGroupSignature(ctx context.Context, epoch domain.Epoch) (sig domain.BLSSignature, ok bool, err error)
}

// MixStore persists mixes and group signatures across restarts.
type MixStore interface {
	SaveMixes(entries []domain.MixEntry) error
	LoadMixes() ([]domain.MixEntry, error)
	SaveThreshold(entry domain.ThresholdEntry) error
	LoadThresholds() ([]domain.ThresholdEntry, error)
	Close() error
}
