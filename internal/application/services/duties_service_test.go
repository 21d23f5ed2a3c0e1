package services

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/randao"
	"github.com/Marketen/randao-duties/internal/application/shuffle"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeBeacon struct {
	mu             sync.Mutex
	finalized      domain.Epoch
	reveals        map[domain.Epoch][]domain.RandaoReveal
	pubkeys        map[domain.ValidatorIndex]domain.BLSPubKey
	activeCount    uint64
	revealRequests int
	// failures makes the next reveal fetches of an epoch fail.
	failures map[domain.Epoch]int
	delay    time.Duration
}

func (f *fakeBeacon) GetFinalizedEpoch(context.Context) (domain.Epoch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized, nil
}

func (f *fakeBeacon) setFinalized(epoch domain.Epoch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = epoch
}

func (f *fakeBeacon) requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revealRequests
}

func (f *fakeBeacon) GetEpochRandaoReveals(_ context.Context, epoch domain.Epoch) ([]domain.RandaoReveal, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealRequests++
	if f.failures[epoch] > 0 {
		f.failures[epoch]--
		return nil, errors.New("connection reset")
	}
	return f.reveals[epoch], nil
}

func (f *fakeBeacon) GetValidatorPubkeys(
	_ context.Context,
	indices []domain.ValidatorIndex,
) (map[domain.ValidatorIndex]domain.BLSPubKey, error) {
	out := make(map[domain.ValidatorIndex]domain.BLSPubKey)
	for _, idx := range indices {
		if pk, ok := f.pubkeys[idx]; ok {
			out[idx] = pk
		}
	}
	return out, nil
}

func (f *fakeBeacon) GetSigningContext(context.Context) (domain.SigningContext, error) {
	return domain.SigningContext{ForkVersion: [4]byte{0x04}}, nil
}

func (f *fakeBeacon) GetActiveValidatorCount(context.Context) (uint64, error) {
	if f.activeCount == 0 {
		return 0, errors.New("unavailable")
	}
	return f.activeCount, nil
}

// fakeVerifier rejects every signature whose first byte is 0xff.
type fakeVerifier struct{}

func (fakeVerifier) VerifyReveal(_ domain.BLSPubKey, _ domain.Epoch, sig domain.BLSSignature, _ domain.SigningContext) error {
	if sig[0] == 0xff {
		return errors.Wrap(domain.ErrVerificationFailed, "bad reveal")
	}
	return nil
}

func (fakeVerifier) VerifyGroupSignature(_ domain.Epoch, sig domain.BLSSignature) error {
	if sig[0] == 0xff {
		return errors.Wrap(domain.ErrVerificationFailed, "bad group signature")
	}
	return nil
}

type memStore struct {
	mixes      map[domain.Epoch]domain.Mix
	thresholds map[domain.Epoch]domain.BLSSignature
}

func newMemStore() *memStore {
	return &memStore{
		mixes:      make(map[domain.Epoch]domain.Mix),
		thresholds: make(map[domain.Epoch]domain.BLSSignature),
	}
}

func (m *memStore) SaveMixes(entries []domain.MixEntry) error {
	for _, e := range entries {
		m.mixes[e.Epoch] = e.Mix
	}
	return nil
}

func (m *memStore) SaveThreshold(entry domain.ThresholdEntry) error {
	m.thresholds[entry.Epoch] = entry.Signature
	return nil
}

func (m *memStore) LoadThresholds() ([]domain.ThresholdEntry, error) {
	var out []domain.ThresholdEntry
	for e, s := range m.thresholds {
		out = append(out, domain.ThresholdEntry{Epoch: e, Signature: s})
	}
	return out, nil
}

func (m *memStore) LoadMixes() ([]domain.MixEntry, error) {
	var out []domain.MixEntry
	for e, mix := range m.mixes {
		out = append(out, domain.MixEntry{Epoch: e, Mix: mix})
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

type mapThresholdSource map[domain.Epoch]domain.BLSSignature

func (m mapThresholdSource) GetGroupSignature(_ context.Context, epoch domain.Epoch) (domain.BLSSignature, bool, error) {
	s, ok := m[epoch]
	return s, ok, nil
}

func sig(b byte) domain.BLSSignature {
	var s domain.BLSSignature
	s[0] = b
	s[95] = b
	return s
}

func testParams() Params {
	return Params{
		PollInterval:      10 * time.Millisecond,
		ValidatorCount:    100,
		CommitteesPerSlot: 2,
		SlotsPerEpoch:     4,
		SyncCommitteeSize: 16,
		RemainderPolicy:   shuffle.DropRemainder,
	}
}

func newScheduler(t *testing.T, deps Dependencies, params Params) *DutiesScheduler {
	t.Helper()
	if deps.Accumulator == nil {
		deps.Accumulator = randao.NewAccumulator(randao.FirstWins)
	}
	if deps.Permutations == nil {
		cache, err := shuffle.NewCache(shuffle.Shuffler{}, shuffle.DefaultCacheSize)
		require.NoError(t, err)
		deps.Permutations = cache
	}
	s, err := NewDutiesScheduler(deps, params)
	require.NoError(t, err)
	return s
}

func TestNewDutiesScheduler_RequiresCore(t *testing.T) {
	_, err := NewDutiesScheduler(Dependencies{}, testParams())
	require.Error(t, err)

	cache, err := shuffle.NewCache(shuffle.Shuffler{}, 4)
	require.NoError(t, err)
	_, err = NewDutiesScheduler(Dependencies{
		Beacon:       &fakeBeacon{},
		Accumulator:  randao.NewAccumulator(randao.FirstWins),
		Permutations: cache,
	}, testParams())
	require.Error(t, err, "beacon without verifier")
}

func TestComputeEpochDuties_Shape(t *testing.T) {
	s := newScheduler(t, Dependencies{}, testParams())

	duties, err := s.ComputeEpochDuties(5)
	require.NoError(t, err)
	require.Equal(t, domain.Epoch(5), duties.Epoch)

	require.Len(t, duties.Proposers, 4)
	for i, p := range duties.Proposers {
		require.Equal(t, domain.Slot(20+i), p.Slot)
		require.Less(t, uint64(p.ValidatorIndex), uint64(100))
	}

	require.Len(t, duties.SyncCommittee, 16)
	seen := make(map[domain.ValidatorIndex]bool)
	for _, v := range duties.SyncCommittee {
		require.False(t, seen[v])
		seen[v] = true
	}

	// 8 committees of 100/8 = 12, 4 validators dropped.
	require.Len(t, duties.Committees, 8)
	require.Equal(t, uint64(2), duties.CommitteesAtSlot)
	for _, c := range duties.Committees {
		require.Len(t, c.Validators, 12)
	}
	require.Equal(t, uint64(4), duties.Unassigned)
	require.Len(t, duties.BySlot()[20], 2)
}

func TestComputeEpochDuties_DistributeRemainder(t *testing.T) {
	params := testParams()
	params.RemainderPolicy = shuffle.DistributeRemainder
	s := newScheduler(t, Dependencies{}, params)

	duties, err := s.ComputeEpochDuties(5)
	require.NoError(t, err)
	require.Equal(t, uint64(0), duties.Unassigned)
}

func TestComputeEpochDuties_ProposerDerivation(t *testing.T) {
	acc := randao.NewAccumulator(randao.FirstWins)
	require.NoError(t, acc.Ingest(3, []byte("entropy")))
	s := newScheduler(t, Dependencies{Accumulator: acc}, testParams())

	duties, err := s.ComputeEpochDuties(5)
	require.NoError(t, err)

	proposerSeed := acc.DeriveSeed(5, domain.DomainBeaconProposer)
	for _, p := range duties.Proposers {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(p.Slot))
		want, err := shuffle.SelectProposer(shuffle.Permute(100, randao.Hash(proposerSeed[:], buf[:])))
		require.NoError(t, err)
		require.Equal(t, want, p.ValidatorIndex)
	}
}

func TestComputeEpochDuties_EpochProposer(t *testing.T) {
	acc := randao.NewAccumulator(randao.FirstWins)
	require.NoError(t, acc.Ingest(3, []byte("entropy")))
	s := newScheduler(t, Dependencies{Accumulator: acc}, testParams())

	duties, err := s.ComputeEpochDuties(5)
	require.NoError(t, err)

	want := shuffle.Permute(100, acc.DeriveSeed(5, domain.DomainBeaconProposer))[0]
	require.Equal(t, want, duties.EpochProposer)
}

func TestComputeEpochDuties_Deterministic(t *testing.T) {
	build := func() *domain.EpochDuties {
		acc := randao.NewAccumulator(randao.FirstWins)
		require.NoError(t, acc.Ingest(8, []byte("x")))
		s := newScheduler(t, Dependencies{Accumulator: acc}, testParams())
		d, err := s.ComputeEpochDuties(10)
		require.NoError(t, err)
		return d
	}
	require.Equal(t, build(), build())
}

func TestComputeEpochDuties_Errors(t *testing.T) {
	params := testParams()
	params.SyncCommitteeSize = 512
	s := newScheduler(t, Dependencies{}, params)
	_, err := s.ComputeEpochDuties(1)
	require.True(t, errors.Is(err, domain.ErrOversizedCommittee), "got %v", err)

	s = newScheduler(t, Dependencies{}, testParams())
	s.SetValidatorCount(0)
	_, err = s.ComputeEpochDuties(1)
	require.True(t, errors.Is(err, domain.ErrEmptyPopulation))
}

func TestDutiesFor(t *testing.T) {
	duties := &domain.EpochDuties{
		Proposers: []domain.ProposerDuty{
			{ValidatorIndex: 7, Slot: 64},
			{ValidatorIndex: 3, Slot: 65},
		},
		Committees: []domain.Committee{
			{Slot: 64, Index: 0, Validators: []domain.ValidatorIndex{1, 7, 9}},
			{Slot: 64, Index: 1, Validators: []domain.ValidatorIndex{2, 4}},
		},
		CommitteesAtSlot: 2,
	}

	proposals, attestations := DutiesFor(duties, []domain.ValidatorIndex{7, 4, 99})
	require.Equal(t, []domain.ProposerDuty{{ValidatorIndex: 7, Slot: 64}}, proposals)
	require.Equal(t, []domain.AttesterDuty{
		{ValidatorIndex: 7, Slot: 64, CommitteeIndex: 0, ValidatorCommitteeIdx: 1, CommitteeLength: 3, CommitteesAtSlot: 2},
		{ValidatorIndex: 4, Slot: 64, CommitteeIndex: 1, ValidatorCommitteeIdx: 1, CommitteeLength: 2, CommitteesAtSlot: 2},
	}, attestations)

	proposals, attestations = DutiesFor(duties, nil)
	require.Empty(t, proposals)
	require.Empty(t, attestations)
}

func TestIngestEpoch_VerifiesAndFolds(t *testing.T) {
	beacon := &fakeBeacon{
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			9: {
				{Slot: 288, Epoch: 9, ProposerIndex: 1, Signature: sig(0x01)},
				{Slot: 289, Epoch: 9, ProposerIndex: 2, Signature: sig(0xff)},
				{Slot: 290, Epoch: 9, ProposerIndex: 3, Signature: sig(0x03)},
				{Slot: 291, Epoch: 9, ProposerIndex: 4, Signature: sig(0x04)},
			},
		},
		pubkeys: map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}, 2: {2}, 3: {3}},
	}
	store := newMemStore()
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Store: store, Accumulator: acc}, testParams())

	before, err := s.ComputeEpochDuties(11)
	require.NoError(t, err)

	err = s.IngestEpoch(context.Background(), 9)
	require.True(t, errors.Is(err, domain.ErrVerificationFailed), "got %v", err)
	require.Contains(t, err.Error(), "2 of 4")

	// Only the two verified reveals contribute.
	want := randao.NewAccumulator(randao.FirstWins)
	s1, s3 := sig(0x01), sig(0x03)
	require.NoError(t, want.Ingest(9, s1[:]))
	require.NoError(t, want.Ingest(9, s3[:]))
	require.Equal(t, want.ReadMix(9), acc.ReadMix(9))
	require.Equal(t, want.ReadMix(9), store.mixes[9])

	after, err := s.ComputeEpochDuties(11)
	require.NoError(t, err)
	require.NotEqual(t, before.Committees, after.Committees)

	// A second pass over the same epoch must not fold the reveals again.
	require.NoError(t, s.IngestEpoch(context.Background(), 9))
	require.Equal(t, want.ReadMix(9), acc.ReadMix(9))
	require.Equal(t, 1, beacon.revealRequests)
}

func TestIngestEpoch_ConcurrentSameEpoch(t *testing.T) {
	beacon := &fakeBeacon{
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			9: {{Slot: 288, Epoch: 9, ProposerIndex: 1, Signature: sig(0x01)}},
		},
		pubkeys: map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}},
		delay:   50 * time.Millisecond,
	}
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Accumulator: acc}, testParams())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.IngestEpoch(context.Background(), 9)
		}(i)
	}
	wg.Wait()

	require.True(t, errs[0] == nil || errs[1] == nil, "got %v and %v", errs[0], errs[1])
	require.Equal(t, 1, beacon.requests())

	// The reveal was folded exactly once.
	want := randao.NewAccumulator(randao.FirstWins)
	s1 := sig(0x01)
	require.NoError(t, want.Ingest(9, s1[:]))
	require.Equal(t, want.ReadMix(9), acc.ReadMix(9))

	require.NoError(t, s.IngestEpoch(context.Background(), 9))
	require.Equal(t, 1, beacon.requests())
}

func TestIngestEpoch_RejectsWrongEpoch(t *testing.T) {
	beacon := &fakeBeacon{
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			2: {{Slot: 64, Epoch: 1, ProposerIndex: 1, Signature: sig(0x01)}},
		},
		pubkeys: map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}},
	}
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Accumulator: acc}, testParams())

	err := s.IngestEpoch(context.Background(), 2)
	require.True(t, errors.Is(err, domain.ErrVerificationFailed))
	require.True(t, acc.ReadMix(2).IsZero())
}

func TestIngestEpoch_Offline(t *testing.T) {
	s := newScheduler(t, Dependencies{}, testParams())
	require.Error(t, s.IngestEpoch(context.Background(), 1))
}

func TestIngestThresholdSignature(t *testing.T) {
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Accumulator: acc}, testParams())
	require.Error(t, s.IngestThresholdSignature(4, sig(0x01)), "no threshold group")

	s = newScheduler(t, Dependencies{Threshold: fakeVerifier{}, Accumulator: acc}, testParams())
	err := s.IngestThresholdSignature(4, sig(0xff))
	require.True(t, errors.Is(err, domain.ErrVerificationFailed))
	_, ok := acc.ReadThreshold(4)
	require.False(t, ok)

	require.NoError(t, s.IngestThresholdSignature(4, sig(0x02)))
	got, ok := acc.ReadThreshold(4)
	require.True(t, ok)
	require.Equal(t, sig(0x02), got)

	err = s.IngestThresholdSignature(4, sig(0x03))
	require.True(t, errors.Is(err, domain.ErrConflictingThreshold))
}

func TestRestore_SkipsPersistedEpochs(t *testing.T) {
	store := newMemStore()
	store.mixes[5] = domain.Mix{0xaa}
	beacon := &fakeBeacon{}
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Store: store, Accumulator: acc}, testParams())

	require.NoError(t, s.Restore())
	require.Equal(t, domain.Mix{0xaa}, acc.ReadMix(5))

	require.NoError(t, s.IngestEpoch(context.Background(), 5))
	require.Equal(t, 0, beacon.revealRequests)
}

func TestIngestThresholdSignature_PersistsAcrossRestore(t *testing.T) {
	store := newMemStore()
	acc := randao.NewAccumulator(randao.FirstWins)
	require.NoError(t, acc.Ingest(4, []byte("entropy")))
	s := newScheduler(t, Dependencies{Threshold: fakeVerifier{}, Store: store, Accumulator: acc}, testParams())
	require.NoError(t, s.IngestThresholdSignature(4, sig(0x02)))
	require.NoError(t, s.Flush())
	require.Equal(t, acc.ReadMix(4), store.mixes[4])
	require.Equal(t, sig(0x02), store.thresholds[4])

	before, err := s.ComputeEpochDuties(6)
	require.NoError(t, err)

	restoredAcc := randao.NewAccumulator(randao.FirstWins)
	restored := newScheduler(t, Dependencies{Threshold: fakeVerifier{}, Store: store, Accumulator: restoredAcc}, testParams())
	require.NoError(t, restored.Restore())
	got, ok := restoredAcc.ReadThreshold(4)
	require.True(t, ok)
	require.Equal(t, sig(0x02), got)
	require.Equal(t, acc.DeriveSeed(6, domain.DomainBeaconProposer), restoredAcc.DeriveSeed(6, domain.DomainBeaconProposer))

	after, err := restored.ComputeEpochDuties(6)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFlush_NoStore(t *testing.T) {
	s := newScheduler(t, Dependencies{}, testParams())
	require.NoError(t, s.Flush())
}

func TestProcessLatestFinalizedEpoch(t *testing.T) {
	beacon := &fakeBeacon{
		finalized: 7,
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			7: {{Slot: 28, Epoch: 7, ProposerIndex: 1, Signature: sig(0x01)}},
		},
		pubkeys:     map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}},
		activeCount: 200,
	}
	params := testParams()
	params.ValidatorIndices = []domain.ValidatorIndex{0, 1, 2}
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}}, params)

	s.processLatestFinalizedEpoch(context.Background())
	require.Equal(t, uint64(200), s.ValidatorCount())
	require.Equal(t, 1, beacon.revealRequests)
	require.Empty(t, s.getValidatorsToReport(params.ValidatorIndices, 9))

	// Unchanged finality is a no-op.
	s.processLatestFinalizedEpoch(context.Background())
	require.Equal(t, 1, beacon.revealRequests)
}

func TestProcessLatestFinalizedEpoch_RetriesFailedEpoch(t *testing.T) {
	beacon := &fakeBeacon{
		finalized: 7,
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			7: {{Slot: 28, Epoch: 7, ProposerIndex: 1, Signature: sig(0x01)}},
		},
		pubkeys:  map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}},
		failures: map[domain.Epoch]int{7: 1},
	}
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Accumulator: acc}, testParams())

	s.processLatestFinalizedEpoch(context.Background())
	require.True(t, acc.ReadMix(7).IsZero())

	// Finality has not moved, but epoch 7 is still pending.
	s.processLatestFinalizedEpoch(context.Background())
	require.False(t, acc.ReadMix(7).IsZero())
	require.Equal(t, 2, beacon.requests())

	s.processLatestFinalizedEpoch(context.Background())
	require.Equal(t, 2, beacon.requests())
}

func TestProcessLatestFinalizedEpoch_CatchesUpSkippedEpochs(t *testing.T) {
	beacon := &fakeBeacon{
		finalized: 7,
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			7: {{Slot: 28, Epoch: 7, ProposerIndex: 1, Signature: sig(0x01)}},
			8: {{Slot: 32, Epoch: 8, ProposerIndex: 1, Signature: sig(0x08)}},
			9: {{Slot: 36, Epoch: 9, ProposerIndex: 1, Signature: sig(0x09)}},
		},
		pubkeys: map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}},
	}
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Accumulator: acc}, testParams())

	s.processLatestFinalizedEpoch(context.Background())
	beacon.setFinalized(9)
	s.processLatestFinalizedEpoch(context.Background())

	for _, e := range []domain.Epoch{7, 8, 9} {
		require.False(t, acc.ReadMix(e).IsZero(), "epoch %d", e)
	}
	require.Equal(t, 3, beacon.requests())
}

func TestProcessLatestFinalizedEpoch_ResumesAfterRestore(t *testing.T) {
	store := newMemStore()
	store.mixes[5] = domain.Mix{0xaa}
	beacon := &fakeBeacon{
		finalized: 7,
		reveals: map[domain.Epoch][]domain.RandaoReveal{
			6: {{Slot: 24, Epoch: 6, ProposerIndex: 1, Signature: sig(0x06)}},
			7: {{Slot: 28, Epoch: 7, ProposerIndex: 1, Signature: sig(0x07)}},
		},
		pubkeys: map[domain.ValidatorIndex]domain.BLSPubKey{1: {1}},
	}
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}, Store: store, Accumulator: acc}, testParams())
	require.NoError(t, s.Restore())

	s.processLatestFinalizedEpoch(context.Background())
	require.Equal(t, 2, beacon.requests())
	require.False(t, acc.ReadMix(6).IsZero())
	require.False(t, store.mixes[7].IsZero())
}

func TestProcessLatestFinalizedEpoch_PollsGroupSignature(t *testing.T) {
	beacon := &fakeBeacon{finalized: 7}
	source := mapThresholdSource{}
	store := newMemStore()
	acc := randao.NewAccumulator(randao.FirstWins)
	s := newScheduler(t, Dependencies{
		Beacon:          beacon,
		Verifier:        fakeVerifier{},
		Threshold:       fakeVerifier{},
		ThresholdSource: source,
		Store:           store,
		Accumulator:     acc,
	}, testParams())

	s.processLatestFinalizedEpoch(context.Background())
	_, ok := acc.ReadThreshold(7)
	require.False(t, ok)

	// The signature arrives after finality; the next round picks it up.
	source[7] = sig(0x07)
	s.processLatestFinalizedEpoch(context.Background())
	got, ok := acc.ReadThreshold(7)
	require.True(t, ok)
	require.Equal(t, sig(0x07), got)
	require.Equal(t, sig(0x07), store.thresholds[7])
}

func TestNewDutiesScheduler_SourceNeedsThresholdVerifier(t *testing.T) {
	cache, err := shuffle.NewCache(shuffle.Shuffler{}, 4)
	require.NoError(t, err)
	_, err = NewDutiesScheduler(Dependencies{
		ThresholdSource: mapThresholdSource{},
		Accumulator:     randao.NewAccumulator(randao.FirstWins),
		Permutations:    cache,
	}, testParams())
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	beacon := &fakeBeacon{finalized: 1}
	s := newScheduler(t, Dependencies{Beacon: beacon, Verifier: fakeVerifier{}}, testParams())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
