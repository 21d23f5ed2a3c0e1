package services

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/ports"
	"github.com/Marketen/randao-duties/internal/application/randao"
	"github.com/Marketen/randao-duties/internal/application/shuffle"
	"github.com/Marketen/randao-duties/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators of a DutiesScheduler.
// Beacon, Threshold, ThresholdSource and Store may be nil: the scheduler then runs offline,
// without threshold ingestion, without polling for group signatures or without persistence.
type Dependencies struct {
	Beacon          ports.BeaconChainAdapter
	Verifier        ports.RevealVerifier
	Threshold       ports.ThresholdVerifier
	ThresholdSource ports.ThresholdSource
	Store           ports.MixStore
	Accumulator  *randao.Accumulator
	Permutations *shuffle.Cache
}

// Params are the chain parameters and tracking settings of a DutiesScheduler.
type Params struct {
	PollInterval     time.Duration
	ValidatorIndices []domain.ValidatorIndex

	ValidatorCount uint64
	// CommitteesPerSlot of 0 derives the count from ValidatorCount.
	CommitteesPerSlot uint64
	SlotsPerEpoch     uint64
	SyncCommitteeSize uint64
	RemainderPolicy   shuffle.RemainderPolicy
}

// DutiesScheduler ingests RANDAO entropy and turns it into duty rosters.
type DutiesScheduler struct {
	BeaconAdapter    ports.BeaconChainAdapter
	PollInterval     time.Duration
	ValidatorIndices []domain.ValidatorIndex

	verifier        ports.RevealVerifier
	threshold       ports.ThresholdVerifier
	thresholdSource ports.ThresholdSource
	store           ports.MixStore
	accumulator  *randao.Accumulator
	permutations *shuffle.Cache

	committeesPerSlot uint64
	slotsPerEpoch     uint64
	syncCommitteeSize uint64
	remainderPolicy   shuffle.RemainderPolicy

	mu             sync.Mutex
	validatorCount uint64
	ingested       map[domain.Epoch]struct{}
	inFlight       map[domain.Epoch]struct{}
	// nextEpoch is the first finalized epoch not yet ingested; unset until started.
	nextEpoch      domain.Epoch
	started        bool
	reportedEpochs map[domain.ValidatorIndex]domain.Epoch // latest target epoch reported for each validator index
}

// NewDutiesScheduler constructs a DutiesScheduler with dependencies injected.
func NewDutiesScheduler(deps Dependencies, params Params) (*DutiesScheduler, error) {
	if deps.Accumulator == nil || deps.Permutations == nil {
		return nil, errors.New("accumulator and permutation cache are required")
	}
	if deps.Beacon != nil && deps.Verifier == nil {
		return nil, errors.New("a reveal verifier is required when a beacon node is configured")
	}
	if deps.ThresholdSource != nil && deps.Threshold == nil {
		return nil, errors.New("a threshold verifier is required when a group signature source is configured")
	}
	slotsPerEpoch := params.SlotsPerEpoch
	if slotsPerEpoch == 0 {
		slotsPerEpoch = domain.SlotsPerEpoch
	}
	return &DutiesScheduler{
		BeaconAdapter:     deps.Beacon,
		PollInterval:      params.PollInterval,
		ValidatorIndices:  params.ValidatorIndices,
		verifier:          deps.Verifier,
		threshold:         deps.Threshold,
		thresholdSource:   deps.ThresholdSource,
		store:             deps.Store,
		accumulator:       deps.Accumulator,
		permutations:      deps.Permutations,
		committeesPerSlot: params.CommitteesPerSlot,
		slotsPerEpoch:     slotsPerEpoch,
		syncCommitteeSize: params.SyncCommitteeSize,
		remainderPolicy:   params.RemainderPolicy,
		validatorCount:    params.ValidatorCount,
		ingested:          make(map[domain.Epoch]struct{}),
		inFlight:          make(map[domain.Epoch]struct{}),
		reportedEpochs:    make(map[domain.ValidatorIndex]domain.Epoch),
	}, nil
}

// ValidatorCount returns the registry size duties are currently computed for.
func (s *DutiesScheduler) ValidatorCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validatorCount
}

// SetValidatorCount changes the registry size used by later computations.
func (s *DutiesScheduler) SetValidatorCount(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validatorCount = n
}

// Restore loads persisted mixes and group signatures into the accumulator.
// Restored epochs are not ingested again and following resumes after the highest one.
func (s *DutiesScheduler) Restore() error {
	if s.store == nil {
		return nil
	}
	entries, err := s.store.LoadMixes()
	if err != nil {
		return errors.Wrap(err, "could not load persisted mixes")
	}
	thresholds, err := s.store.LoadThresholds()
	if err != nil {
		return errors.Wrap(err, "could not load persisted group signatures")
	}
	s.accumulator.Restore(entries, thresholds)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.ingested[e.Epoch] = struct{}{}
	}
	if highest, ok := s.accumulator.HighestEpoch(); ok {
		s.nextEpoch = highest + 1
		s.started = true
	}
	logger.Info("Restored %d persisted mixes and %d group signatures", len(entries), len(thresholds))
	return nil
}

// Flush persists every mix the accumulator holds.
func (s *DutiesScheduler) Flush() error {
	if s.store == nil {
		return nil
	}
	snapshot := s.accumulator.Snapshot()
	if err := s.store.SaveMixes(snapshot); err != nil {
		return errors.Wrap(err, "could not flush mixes")
	}
	logger.Debug("Flushed %d mixes", len(snapshot))
	return nil
}

// IngestEpoch fetches the RANDAO reveals of an epoch, verifies each one against its
// proposer's key and folds the verified ones into the accumulator. Reveals that fail
// verification are reported in the returned error, which wraps domain.ErrVerificationFailed.
// An epoch is ingested at most once; a call racing another ingest of the same epoch fails.
func (s *DutiesScheduler) IngestEpoch(ctx context.Context, epoch domain.Epoch) error {
	if s.BeaconAdapter == nil {
		return errors.New("no beacon node configured")
	}
	s.mu.Lock()
	if _, done := s.ingested[epoch]; done {
		s.mu.Unlock()
		logger.Debug("Epoch %d already ingested, skipping.", epoch)
		return nil
	}
	if _, busy := s.inFlight[epoch]; busy {
		s.mu.Unlock()
		return errors.Errorf("epoch %d is already being ingested", epoch)
	}
	s.inFlight[epoch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, epoch)
		s.mu.Unlock()
	}()

	reveals, err := s.BeaconAdapter.GetEpochRandaoReveals(ctx, epoch)
	if err != nil {
		return errors.Wrapf(err, "could not fetch randao reveals for epoch %d", epoch)
	}
	if len(reveals) == 0 {
		logger.Warn("No blocks found for epoch %d; mix unchanged.", epoch)
	}

	proposers := make([]domain.ValidatorIndex, 0, len(reveals))
	for _, r := range reveals {
		proposers = append(proposers, r.ProposerIndex)
	}
	pubkeys, err := s.BeaconAdapter.GetValidatorPubkeys(ctx, proposers)
	if err != nil {
		return errors.Wrapf(err, "could not fetch proposer pubkeys for epoch %d", epoch)
	}
	sctx, err := s.BeaconAdapter.GetSigningContext(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch signing context")
	}

	verified, failed := s.verifyReveals(ctx, epoch, reveals, pubkeys, sctx)

	for _, r := range verified {
		if err := s.accumulator.Ingest(epoch, r.Signature[:]); err != nil {
			return errors.Wrapf(err, "could not ingest reveal for slot %d", r.Slot)
		}
	}

	s.mu.Lock()
	s.ingested[epoch] = struct{}{}
	s.mu.Unlock()
	epochsIngested.Inc()
	lastIngestedEpoch.Set(float64(epoch))

	if s.store != nil {
		if err := s.store.SaveMixes([]domain.MixEntry{{Epoch: epoch, Mix: s.accumulator.ReadMix(epoch)}}); err != nil {
			return errors.Wrapf(err, "could not persist mix for epoch %d", epoch)
		}
	}

	logger.Info("Ingested %d of %d reveals for epoch %d", len(verified), len(reveals), epoch)
	if failed > 0 {
		return errors.Wrapf(domain.ErrVerificationFailed, "%d of %d reveals for epoch %d rejected", failed, len(reveals), epoch)
	}
	return nil
}

// verifyReveals checks every reveal concurrently and returns the valid ones in slot order.
func (s *DutiesScheduler) verifyReveals(
	ctx context.Context,
	epoch domain.Epoch,
	reveals []domain.RandaoReveal,
	pubkeys map[domain.ValidatorIndex]domain.BLSPubKey,
	sctx domain.SigningContext,
) ([]domain.RandaoReveal, int) {
	ok := make([]bool, len(reveals))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range reveals {
		r := reveals[i]
		g.Go(func() error {
			if r.Epoch != epoch {
				logger.Error("❌ Reveal at slot %d signs epoch %d, expected %d", r.Slot, r.Epoch, epoch)
				return nil
			}
			pk, found := pubkeys[r.ProposerIndex]
			if !found {
				logger.Error("❌ No pubkey for proposer %d at slot %d", r.ProposerIndex, r.Slot)
				return nil
			}
			if err := s.verifier.VerifyReveal(pk, epoch, r.Signature, sctx); err != nil {
				logger.Error("❌ Reveal of proposer %d at slot %d rejected: %v", r.ProposerIndex, r.Slot, err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	verified := make([]domain.RandaoReveal, 0, len(reveals))
	for i, r := range reveals {
		if ok[i] {
			verified = append(verified, r)
		}
	}
	return verified, len(reveals) - len(verified)
}

// IngestThresholdSignature verifies a recovered group signature and records it for the epoch.
func (s *DutiesScheduler) IngestThresholdSignature(epoch domain.Epoch, sig domain.BLSSignature) error {
	if s.threshold == nil {
		return errors.New("no threshold group configured")
	}
	if err := s.threshold.VerifyGroupSignature(epoch, sig); err != nil {
		return errors.Wrapf(err, "threshold signature for epoch %d", epoch)
	}
	if err := s.accumulator.IngestThreshold(epoch, sig); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveThreshold(domain.ThresholdEntry{Epoch: epoch, Signature: sig}); err != nil {
			return errors.Wrapf(err, "could not persist threshold signature for epoch %d", epoch)
		}
	}
	logger.Info("Stored threshold signature for epoch %d", epoch)
	return nil
}

// pollThreshold asks the group signature source for epoch once no signature is stored for it.
func (s *DutiesScheduler) pollThreshold(ctx context.Context, epoch domain.Epoch) {
	if s.thresholdSource == nil {
		return
	}
	if _, ok := s.accumulator.ReadThreshold(epoch); ok {
		return
	}
	sig, ok, err := s.thresholdSource.GetGroupSignature(ctx, epoch)
	if err != nil {
		logger.Warn("Could not fetch group signature for epoch %d: %v", epoch, err)
		return
	}
	if !ok {
		logger.Debug("No group signature for epoch %d yet", epoch)
		return
	}
	if err := s.IngestThresholdSignature(epoch, sig); err != nil {
		logger.Error("❌ Group signature for epoch %d rejected: %v", epoch, err)
	}
}

// ComputeEpochDuties derives the proposer, sync-committee and attestation rosters of target.
func (s *DutiesScheduler) ComputeEpochDuties(target domain.Epoch) (*domain.EpochDuties, error) {
	n := s.ValidatorCount()
	if n == 0 {
		return nil, domain.ErrEmptyPopulation
	}

	startSlot := domain.EpochStartSlot(target, s.slotsPerEpoch)
	duties := &domain.EpochDuties{Epoch: target}

	proposerSeed := s.accumulator.DeriveSeed(target, domain.DomainBeaconProposer)
	epochProposer, err := shuffle.SelectProposer(s.permutations.Permute(n, proposerSeed))
	if err != nil {
		return nil, errors.Wrapf(err, "epoch proposer for epoch %d", target)
	}
	duties.EpochProposer = epochProposer

	proposers, err := s.computeProposers(proposerSeed, startSlot, n)
	if err != nil {
		return nil, err
	}
	duties.Proposers = proposers

	syncSeed := s.accumulator.DeriveSeed(target, domain.DomainRandao)
	duties.SyncCommittee, err = shuffle.SelectSyncCommittee(s.permutations.Permute(n, syncSeed), s.syncCommitteeSize)
	if err != nil {
		return nil, errors.Wrapf(err, "sync committee for epoch %d", target)
	}

	committeesPerSlot := s.committeesPerSlot
	if committeesPerSlot == 0 {
		committeesPerSlot = shuffle.CommitteeCount(n, s.slotsPerEpoch)
	}
	attesterSeed := s.accumulator.DeriveSeed(target, domain.DomainBeaconAttester)
	duties.Committees, err = shuffle.PartitionAttestationCommittees(
		s.permutations.Permute(n, attesterSeed),
		committeesPerSlot,
		s.slotsPerEpoch,
		startSlot,
		s.remainderPolicy,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "attestation committees for epoch %d", target)
	}
	duties.CommitteesAtSlot = committeesPerSlot
	duties.Unassigned = shuffle.Unassigned(duties.Committees, n)

	dutiesComputed.Inc()
	return duties, nil
}

// computeProposers picks one proposer per slot, each from the permutation seeded by
// Hash(proposerSeed || uint64_le(slot)).
func (s *DutiesScheduler) computeProposers(proposerSeed domain.Seed, startSlot domain.Slot, n uint64) ([]domain.ProposerDuty, error) {
	proposers := make([]domain.ProposerDuty, s.slotsPerEpoch)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := uint64(0); i < s.slotsPerEpoch; i++ {
		slot := startSlot + domain.Slot(i)
		idx := i
		g.Go(func() error {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(slot))
			slotSeed := randao.Hash(proposerSeed[:], buf[:])
			proposer, err := shuffle.SelectProposer(s.permutations.Permute(n, slotSeed))
			if err != nil {
				return errors.Wrapf(err, "proposer for slot %d", slot)
			}
			proposers[idx] = domain.ProposerDuty{ValidatorIndex: proposer, Slot: slot}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return proposers, nil
}

// DutiesFor filters an epoch's rosters down to the given validators.
func DutiesFor(duties *domain.EpochDuties, indices []domain.ValidatorIndex) ([]domain.ProposerDuty, []domain.AttesterDuty) {
	tracked := make(map[domain.ValidatorIndex]struct{}, len(indices))
	for _, idx := range indices {
		tracked[idx] = struct{}{}
	}

	var proposals []domain.ProposerDuty
	for _, p := range duties.Proposers {
		if _, ok := tracked[p.ValidatorIndex]; ok {
			proposals = append(proposals, p)
		}
	}

	var attestations []domain.AttesterDuty
	for _, c := range duties.Committees {
		for pos, v := range c.Validators {
			if _, ok := tracked[v]; !ok {
				continue
			}
			attestations = append(attestations, domain.AttesterDuty{
				ValidatorIndex:        v,
				Slot:                  c.Slot,
				CommitteeIndex:        c.Index,
				ValidatorCommitteeIdx: uint64(pos),
				CommitteeLength:       uint64(len(c.Validators)),
				CommitteesAtSlot:      duties.CommitteesAtSlot,
			})
		}
	}
	return proposals, attestations
}

// Run starts the periodic ingest loop. If at interval, ticker ticks but the previous
// round has not ended, we won't start a new one, we will just wait for the next tick.
func (s *DutiesScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processLatestFinalizedEpoch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processLatestFinalizedEpoch ingests every finalized epoch since the last round, then reports
// the duties of the epoch the newest finalized one seeds. An epoch that fails for any reason
// other than rejected reveals is retried on the next round.
func (s *DutiesScheduler) processLatestFinalizedEpoch(ctx context.Context) {
	finalizedEpoch, err := s.BeaconAdapter.GetFinalizedEpoch(ctx)
	if err != nil {
		logger.Error("Error fetching finalized epoch: %v", err)
		return
	}
	s.mu.Lock()
	next, started := s.nextEpoch, s.started
	s.mu.Unlock()
	if !started {
		next = finalizedEpoch
	}
	if started && finalizedEpoch < next {
		logger.Debug("Finalized epoch %d unchanged, skipping.", finalizedEpoch)
		if next > 0 {
			s.pollThreshold(ctx, next-1)
		}
		return
	}
	logger.Info("New finalized epoch %d detected.", finalizedEpoch)

	// Older epochs would be overwritten in the ring before they could seed anything.
	if finalizedEpoch-next >= domain.HistoryLen {
		skipped := next
		next = finalizedEpoch - domain.HistoryLen + 1
		logger.Warn("Skipping epochs %d to %d, older than the mix history", skipped, next-1)
	}
	for epoch := next; ; epoch++ {
		if err := s.IngestEpoch(ctx, epoch); err != nil {
			logger.Error("Error ingesting epoch %d: %v", epoch, err)
			if !errors.Is(err, domain.ErrVerificationFailed) {
				return
			}
		}
		s.mu.Lock()
		s.nextEpoch = epoch + 1
		s.started = true
		s.mu.Unlock()
		s.pollThreshold(ctx, epoch)
		if epoch == finalizedEpoch {
			break
		}
	}

	if count, err := s.BeaconAdapter.GetActiveValidatorCount(ctx); err != nil {
		logger.Warn("Could not refresh active validator count, keeping %d: %v", s.ValidatorCount(), err)
	} else {
		s.SetValidatorCount(count)
	}

	target := finalizedEpoch + domain.MinSeedLookahead + 1
	duties, err := s.ComputeEpochDuties(target)
	if err != nil {
		logger.Error("Error computing duties for epoch %d: %v", target, err)
		return
	}
	s.report(duties)
}

func (s *DutiesScheduler) report(duties *domain.EpochDuties) {
	l := logger.With("epoch", uint64(duties.Epoch))
	l.Debug().Int("cached_permutations", s.permutations.Len()).Msg("Permutation cache")
	l.Info().
		Uint64("epoch_proposer", uint64(duties.EpochProposer)).
		Int("proposers", len(duties.Proposers)).
		Int("committees", len(duties.Committees)).
		Uint64("unassigned", duties.Unassigned).
		Msg("Computed duties")

	if len(s.ValidatorIndices) == 0 {
		logger.Debug("No validator indices configured; skipping per-validator report.")
		return
	}
	indices := s.getValidatorsToReport(s.ValidatorIndices, duties.Epoch)
	if len(indices) == 0 {
		logger.Debug("No validators left to report for epoch %d", duties.Epoch)
		return
	}

	proposals, attestations := DutiesFor(duties, indices)
	for _, p := range proposals {
		logger.Info("📦 Validator %d proposes at slot %d in epoch %d", p.ValidatorIndex, p.Slot, duties.Epoch)
	}
	for _, a := range attestations {
		logger.Info("🗳️ Validator %d attests at slot %d in committee %d (position %d of %d)",
			a.ValidatorIndex, a.Slot, a.CommitteeIndex, a.ValidatorCommitteeIdx, a.CommitteeLength)
	}
	for _, idx := range indices {
		s.markReported(idx, duties.Epoch)
	}
}

// getValidatorsToReport filters out validators already reported for this epoch.
func (s *DutiesScheduler) getValidatorsToReport(indices []domain.ValidatorIndex, epoch domain.Epoch) []domain.ValidatorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.ValidatorIndex
	for _, index := range indices {
		if e, ok := s.reportedEpochs[index]; ok && e == epoch {
			continue
		}
		result = append(result, index)
	}
	return result
}

func (s *DutiesScheduler) markReported(index domain.ValidatorIndex, epoch domain.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportedEpochs[index] = epoch
}
