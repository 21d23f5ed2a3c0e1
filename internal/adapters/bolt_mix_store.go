package adapters

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/ports"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	mixesBucket     = []byte("randao-mixes")
	thresholdBucket = []byte("threshold-signatures")
)

// boltMixStore implements ports.MixStore on a single bbolt file.
type boltMixStore struct {
	db *bolt.DB
}

// NewBoltMixStore opens (or creates) the mix database at path.
func NewBoltMixStore(path string) (ports.MixStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "could not create mix store directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, errors.Wrap(err, "could not open mix store")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{mixesBucket, thresholdBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not create buckets")
	}
	return &boltMixStore{db: db}, nil
}

// Keys are big-endian so cursor order is epoch order.
func epochKey(epoch domain.Epoch) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(epoch))
	return k
}

// SaveMixes stores every mix in one transaction, replacing previous values.
func (s *boltMixStore) SaveMixes(entries []domain.MixEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(mixesBucket)
		for _, e := range entries {
			mix := e.Mix
			if err := bkt.Put(epochKey(e.Epoch), mix[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadMixes returns every stored mix in ascending epoch order.
func (s *boltMixStore) LoadMixes() ([]domain.MixEntry, error) {
	var out []domain.MixEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mixesBucket).ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 32 {
				return errors.Errorf("corrupt mix record %#x", k)
			}
			var mix domain.Mix
			copy(mix[:], v)
			out = append(out, domain.MixEntry{
				Epoch: domain.Epoch(binary.BigEndian.Uint64(k)),
				Mix:   mix,
			})
			return nil
		})
	})
	return out, err
}

// SaveThreshold stores the group signature for an epoch, replacing any previous value.
func (s *boltMixStore) SaveThreshold(entry domain.ThresholdEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sig := entry.Signature
		return tx.Bucket(thresholdBucket).Put(epochKey(entry.Epoch), sig[:])
	})
}

// LoadThresholds returns every stored group signature in ascending epoch order.
func (s *boltMixStore) LoadThresholds() ([]domain.ThresholdEntry, error) {
	var out []domain.ThresholdEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(thresholdBucket).ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 96 {
				return errors.Errorf("corrupt threshold record %#x", k)
			}
			e := domain.ThresholdEntry{Epoch: domain.Epoch(binary.BigEndian.Uint64(k))}
			copy(e.Signature[:], v)
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// Close releases the database file.
func (s *boltMixStore) Close() error {
	return s.db.Close()
}
