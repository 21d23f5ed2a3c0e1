package adapters

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/ports"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	eth2http "github.com/attestantio/go-eth2-client/http"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentBlockFetches bounds parallel block requests per epoch.
const maxConcurrentBlockFetches = 8

// beaconHTTPClient implements ports.BeaconChainAdapter using go-eth2-client.
type beaconHTTPClient struct {
	client        *eth2http.Service
	slotsPerEpoch uint64
}

// NewBeaconHTTPAdapter is the constructor used from main.go.
func NewBeaconHTTPAdapter(endpoint string, slotsPerEpoch uint64) (ports.BeaconChainAdapter, error) {
	customHTTPClient := &nethttp.Client{
		Timeout: 2000 * time.Second, // global upper bound; per-request timeout below
	}

	client, err := eth2http.New(
		context.Background(),
		eth2http.WithAddress(endpoint),
		eth2http.WithHTTPClient(customHTTPClient),
		// This is the per-request timeout used by go-eth2-client.
		eth2http.WithTimeout(20*time.Second),
		// Silence go-eth2-client logs unless they are warnings+.
		eth2http.WithLogLevel(zerolog.WarnLevel),
	)
	if err != nil {
		return nil, err
	}

	if slotsPerEpoch == 0 {
		slotsPerEpoch = domain.SlotsPerEpoch
	}
	return &beaconHTTPClient{client: client.(*eth2http.Service), slotsPerEpoch: slotsPerEpoch}, nil
}

func isNotFound(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// GetFinalizedEpoch returns the latest finalized epoch.
func (b *beaconHTTPClient) GetFinalizedEpoch(ctx context.Context) (domain.Epoch, error) {
	finality, err := b.client.Finality(ctx, &api.FinalityOpts{State: "head"})
	if err != nil {
		return 0, err
	}
	return domain.Epoch(finality.Data.Finalized.Epoch), nil
}

// GetEpochRandaoReveals fetches every block of the epoch and returns its RANDAO reveal.
func (b *beaconHTTPClient) GetEpochRandaoReveals(
	ctx context.Context,
	epoch domain.Epoch,
) ([]domain.RandaoReveal, error) {
	startSlot := domain.EpochStartSlot(epoch, b.slotsPerEpoch)
	found := make([]*domain.RandaoReveal, b.slotsPerEpoch)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBlockFetches)
	for i := uint64(0); i < b.slotsPerEpoch; i++ {
		i := i
		g.Go(func() error {
			reveal, err := b.slotRandaoReveal(gctx, startSlot+domain.Slot(i))
			if err != nil {
				return err
			}
			if reveal != nil {
				reveal.Epoch = epoch
			}
			found[i] = reveal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.RandaoReveal, 0, len(found))
	for _, r := range found {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// slotRandaoReveal returns (nil, nil) for a missed slot.
func (b *beaconHTTPClient) slotRandaoReveal(ctx context.Context, slot domain.Slot) (*domain.RandaoReveal, error) {
	block, err := b.client.SignedBeaconBlock(ctx, &api.SignedBeaconBlockOpts{
		Block: fmt.Sprintf("%d", slot),
	})
	if err != nil {
		// Missed slot → 404.
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if block == nil || block.Data == nil {
		return nil, nil
	}

	reveal, proposer, err := randaoFromBlock(block.Data)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", slot, err)
	}
	return &domain.RandaoReveal{
		Slot:          slot,
		ProposerIndex: domain.ValidatorIndex(proposer),
		Signature:     domain.BLSSignature(reveal),
	}, nil
}

func randaoFromBlock(block *spec.VersionedSignedBeaconBlock) (phase0.BLSSignature, phase0.ValidatorIndex, error) {
	switch block.Version {
	case spec.DataVersionPhase0:
		if block.Phase0 != nil && block.Phase0.Message != nil && block.Phase0.Message.Body != nil {
			return block.Phase0.Message.Body.RANDAOReveal, block.Phase0.Message.ProposerIndex, nil
		}
	case spec.DataVersionAltair:
		if block.Altair != nil && block.Altair.Message != nil && block.Altair.Message.Body != nil {
			return block.Altair.Message.Body.RANDAOReveal, block.Altair.Message.ProposerIndex, nil
		}
	case spec.DataVersionBellatrix:
		if block.Bellatrix != nil && block.Bellatrix.Message != nil && block.Bellatrix.Message.Body != nil {
			return block.Bellatrix.Message.Body.RANDAOReveal, block.Bellatrix.Message.ProposerIndex, nil
		}
	case spec.DataVersionCapella:
		if block.Capella != nil && block.Capella.Message != nil && block.Capella.Message.Body != nil {
			return block.Capella.Message.Body.RANDAOReveal, block.Capella.Message.ProposerIndex, nil
		}
	case spec.DataVersionDeneb:
		if block.Deneb != nil && block.Deneb.Message != nil && block.Deneb.Message.Body != nil {
			return block.Deneb.Message.Body.RANDAOReveal, block.Deneb.Message.ProposerIndex, nil
		}
	case spec.DataVersionElectra:
		if block.Electra != nil && block.Electra.Message != nil && block.Electra.Message.Body != nil {
			return block.Electra.Message.Body.RANDAOReveal, block.Electra.Message.ProposerIndex, nil
		}
	default:
		return phase0.BLSSignature{}, 0, fmt.Errorf("unsupported block version %s", block.Version)
	}
	return phase0.BLSSignature{}, 0, fmt.Errorf("incomplete %s block", block.Version)
}

// GetValidatorPubkeys returns the public keys of the given validators at head.
func (b *beaconHTTPClient) GetValidatorPubkeys(
	ctx context.Context,
	indices []domain.ValidatorIndex,
) (map[domain.ValidatorIndex]domain.BLSPubKey, error) {
	beaconIndices := make([]phase0.ValidatorIndex, 0, len(indices))
	for _, idx := range indices {
		beaconIndices = append(beaconIndices, phase0.ValidatorIndex(idx))
	}

	validators, err := b.client.Validators(ctx, &api.ValidatorsOpts{
		State:   "head",
		Indices: beaconIndices,
	})
	if err != nil {
		return nil, err
	}

	result := make(map[domain.ValidatorIndex]domain.BLSPubKey, len(validators.Data))
	for idx, v := range validators.Data {
		if v == nil || v.Validator == nil {
			continue
		}
		result[domain.ValidatorIndex(idx)] = domain.BLSPubKey(v.Validator.PublicKey)
	}
	return result, nil
}

// GetSigningContext returns the head fork version and the genesis validators root.
func (b *beaconHTTPClient) GetSigningContext(ctx context.Context) (domain.SigningContext, error) {
	genesis, err := b.client.Genesis(ctx, &api.GenesisOpts{})
	if err != nil {
		return domain.SigningContext{}, err
	}
	fork, err := b.client.Fork(ctx, &api.ForkOpts{State: "head"})
	if err != nil {
		return domain.SigningContext{}, err
	}
	return domain.SigningContext{
		ForkVersion:           [4]byte(fork.Data.CurrentVersion),
		GenesisValidatorsRoot: domain.Root(genesis.Data.GenesisValidatorsRoot),
	}, nil
}

// GetActiveValidatorCount returns how many validators are active at head.
func (b *beaconHTTPClient) GetActiveValidatorCount(ctx context.Context) (uint64, error) {
	validators, err := b.client.Validators(ctx, &api.ValidatorsOpts{
		State: "head",
		ValidatorStates: []apiv1.ValidatorState{
			apiv1.ValidatorStateActiveOngoing,
			apiv1.ValidatorStateActiveExiting,
			apiv1.ValidatorStateActiveSlashed,
		},
	})
	if err != nil {
		return 0, err
	}
	return uint64(len(validators.Data)), nil
}
