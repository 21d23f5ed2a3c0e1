// Package randao holds the epoch randomness history and the seed derivation built on it.
package randao

import (
	"sync"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/pkg/errors"
)

// ThresholdPolicy decides what happens when a second group signature arrives for an epoch.
type ThresholdPolicy int

const (
	// FirstWins keeps the first verified signature and rejects a different one.
	FirstWins ThresholdPolicy = iota
	// LastWins overwrites the stored signature with every new submission.
	LastWins
)

func (p ThresholdPolicy) String() string {
	switch p {
	case FirstWins:
		return "first-wins"
	case LastWins:
		return "last-wins"
	default:
		return "unknown"
	}
}

// ParseThresholdPolicy maps a config string onto a ThresholdPolicy.
func ParseThresholdPolicy(s string) (ThresholdPolicy, error) {
	switch s {
	case "", "first-wins":
		return FirstWins, nil
	case "last-wins":
		return LastWins, nil
	default:
		return FirstWins, errors.Errorf("unknown threshold policy %q", s)
	}
}

type thresholdEntry struct {
	epoch domain.Epoch
	sig   domain.BLSSignature
}

// MixSource is the read side of the accumulator used by seed derivation.
type MixSource interface {
	ReadMix(epoch domain.Epoch) domain.Mix
	ReadThreshold(epoch domain.Epoch) (domain.BLSSignature, bool)
}

// Accumulator owns the ring of per-epoch mixes and the optional threshold signature slots.
// Writers take the exclusive lock; readers take the shared lock and receive copies.
type Accumulator struct {
	lock      sync.RWMutex
	mixes     [domain.HistoryLen]domain.Mix
	threshold [domain.HistoryLen]*thresholdEntry
	highest   domain.Epoch
	seen      bool
	policy    ThresholdPolicy
}

// NewAccumulator returns a zero-initialized accumulator.
func NewAccumulator(policy ThresholdPolicy) *Accumulator {
	return &Accumulator{policy: policy}
}

func ringIndex(epoch domain.Epoch) uint64 {
	return uint64(epoch) & (domain.HistoryLen - 1)
}

// checkFresh must be called with the write lock held.
func (a *Accumulator) checkFresh(epoch domain.Epoch) error {
	if a.seen && epoch < a.highest && a.highest-epoch >= domain.HistoryLen {
		return errors.Wrapf(domain.ErrStaleEpoch, "epoch %d, highest seen %d", epoch, a.highest)
	}
	return nil
}

func (a *Accumulator) markSeen(epoch domain.Epoch) {
	if !a.seen || epoch > a.highest {
		a.highest = epoch
		a.seen = true
	}
}

// Ingest folds the hash of already-verified entropy into the mix for epoch.
// Contributions commute: the final mix does not depend on ingestion order.
func (a *Accumulator) Ingest(epoch domain.Epoch, entropy []byte) error {
	digest := Hash(entropy)

	a.lock.Lock()
	defer a.lock.Unlock()
	if err := a.checkFresh(epoch); err != nil {
		revealsRejected.Inc()
		return err
	}
	mix := &a.mixes[ringIndex(epoch)]
	for i := range mix {
		mix[i] ^= digest[i]
	}
	a.markSeen(epoch)
	revealsIngested.Inc()
	return nil
}

// IngestThreshold stores an already-verified group signature for epoch. The mix ring is untouched.
func (a *Accumulator) IngestThreshold(epoch domain.Epoch, sig domain.BLSSignature) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if err := a.checkFresh(epoch); err != nil {
		revealsRejected.Inc()
		return err
	}
	idx := ringIndex(epoch)
	if prev := a.threshold[idx]; prev != nil && prev.epoch == epoch && a.policy == FirstWins {
		if prev.sig == sig {
			return nil
		}
		revealsRejected.Inc()
		return errors.Wrapf(domain.ErrConflictingThreshold, "epoch %d", epoch)
	}
	a.threshold[idx] = &thresholdEntry{epoch: epoch, sig: sig}
	a.markSeen(epoch)
	thresholdIngested.Inc()
	return nil
}

// ReadMix returns the mix in the ring slot for epoch, zero if untouched.
func (a *Accumulator) ReadMix(epoch domain.Epoch) domain.Mix {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.mixes[ringIndex(epoch)]
}

// ReadThreshold returns the group signature stored for exactly this epoch.
func (a *Accumulator) ReadThreshold(epoch domain.Epoch) (domain.BLSSignature, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	entry := a.threshold[ringIndex(epoch)]
	if entry == nil || entry.epoch != epoch {
		return domain.BLSSignature{}, false
	}
	return entry.sig, true
}

// HighestEpoch returns the highest epoch written so far.
func (a *Accumulator) HighestEpoch() (domain.Epoch, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.highest, a.seen
}

// DeriveSeed derives the seed for target and domain from this accumulator.
func (a *Accumulator) DeriveSeed(target domain.Epoch, d domain.DomainType) domain.Seed {
	return DeriveSeed(a, target, d)
}

// Snapshot returns the non-zero mixes of the history window ending at the highest epoch seen.
func (a *Accumulator) Snapshot() []domain.MixEntry {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if !a.seen {
		return nil
	}
	var first domain.Epoch
	if a.highest >= domain.HistoryLen {
		first = a.highest - domain.HistoryLen + 1
	}
	var out []domain.MixEntry
	for e := first; ; e++ {
		if mix := a.mixes[ringIndex(e)]; !mix.IsZero() {
			out = append(out, domain.MixEntry{Epoch: e, Mix: mix})
		}
		if e == a.highest {
			break
		}
	}
	return out
}

// Restore re-initializes the ring from persisted mixes and group signatures.
// Existing state is discarded.
func (a *Accumulator) Restore(entries []domain.MixEntry, thresholds []domain.ThresholdEntry) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.mixes = [domain.HistoryLen]domain.Mix{}
	a.threshold = [domain.HistoryLen]*thresholdEntry{}
	a.highest, a.seen = 0, false
	for _, e := range entries {
		a.mixes[ringIndex(e.Epoch)] = e.Mix
		a.markSeen(e.Epoch)
	}
	for _, e := range thresholds {
		a.threshold[ringIndex(e.Epoch)] = &thresholdEntry{epoch: e.Epoch, sig: e.Signature}
		a.markSeen(e.Epoch)
	}
}
