package shuffle

import (
	"github.com/Marketen/randao-duties/internal/application/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// DefaultCacheSize holds the permutations of a few epochs' worth of duty domains.
	DefaultCacheSize = 256
)

var (
	permutationCacheHit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuffle_permutation_cache_hit_total",
		Help: "The total number of cache hits on the permutation cache.",
	})
	permutationCacheMiss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuffle_permutation_cache_miss_total",
		Help: "The total number of cache misses on the permutation cache.",
	})
)

type cacheKey struct {
	algorithm Algorithm
	n         uint64
	seed      domain.Seed
}

// Cache memoizes permutations by (algorithm, population size, seed).
// Callers always receive their own copy.
type Cache struct {
	shuffler Shuffler
	lru      *lru.Cache[cacheKey, domain.Permutation]
}

// NewCache creates a permutation cache holding up to size entries.
func NewCache(shuffler Shuffler, size int) (*Cache, error) {
	c, err := lru.New[cacheKey, domain.Permutation](size)
	if err != nil {
		return nil, errors.Wrap(err, "could not create permutation cache")
	}
	return &Cache{shuffler: shuffler, lru: c}, nil
}

// Algorithm returns the algorithm of the wrapped shuffler.
func (c *Cache) Algorithm() Algorithm {
	return c.shuffler.Algorithm
}

// Permute returns the cached permutation for (n, seed), computing it on a miss.
func (c *Cache) Permute(n uint64, seed domain.Seed) domain.Permutation {
	key := cacheKey{algorithm: c.shuffler.Algorithm, n: n, seed: seed}
	if p, ok := c.lru.Get(key); ok {
		permutationCacheHit.Inc()
		return p.Copy()
	}
	permutationCacheMiss.Inc()
	p := c.shuffler.Permute(n, seed)
	c.lru.Add(key, p)
	return p.Copy()
}

// Len returns the number of cached permutations.
func (c *Cache) Len() int {
	return c.lru.Len()
}
