// Package shuffle turns a seed into a permutation of validator indices and slices that
// permutation into proposer, sync committee and attestation committee assignments.
package shuffle

import (
	"encoding/binary"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/randao"
	"github.com/pkg/errors"
)

// Algorithm selects how swap targets are drawn from the seed.
type Algorithm int

const (
	// RotatingBuffer reads the first 8 bytes of a 32-byte buffer, then rotates it left by one byte.
	RotatingBuffer Algorithm = iota
	// HashStream draws every swap target from Hash(seed || uint64_le(i)).
	HashStream
)

func (a Algorithm) String() string {
	switch a {
	case RotatingBuffer:
		return "rotating-buffer"
	case HashStream:
		return "hash-stream"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a config string onto an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "rotating-buffer":
		return RotatingBuffer, nil
	case "hash-stream":
		return HashStream, nil
	default:
		return RotatingBuffer, errors.Errorf("unknown shuffle algorithm %q", s)
	}
}

// Shuffler computes permutations with a fixed algorithm. The zero value uses RotatingBuffer.
type Shuffler struct {
	Algorithm Algorithm
}

// Permute returns a permutation of [0, n) determined entirely by (algorithm, n, seed).
func (s Shuffler) Permute(n uint64, seed domain.Seed) domain.Permutation {
	if s.Algorithm == HashStream {
		return permuteHashStream(n, seed)
	}
	return Permute(n, seed)
}

func identity(n uint64) domain.Permutation {
	idx := make(domain.Permutation, n)
	for i := range idx {
		idx[i] = domain.ValidatorIndex(i)
	}
	return idx
}

// Permute runs a Fisher-Yates shuffle over the identity sequence of length n. Each swap target
// is the little-endian uint64 in the first 8 bytes of a running buffer, reduced modulo i+1.
// The buffer starts as seed and is rotated left by one byte after every step.
func Permute(n uint64, seed domain.Seed) domain.Permutation {
	idx := identity(n)
	buf := seed
	for i := n; i > 1; i-- {
		hi := i - 1
		r := binary.LittleEndian.Uint64(buf[:8]) % i
		idx[hi], idx[r] = idx[r], idx[hi]

		first := buf[0]
		copy(buf[:], buf[1:])
		buf[len(buf)-1] = first
	}
	return idx
}

func permuteHashStream(n uint64, seed domain.Seed) domain.Permutation {
	idx := identity(n)
	var counter [8]byte
	for i := n; i > 1; i-- {
		hi := i - 1
		binary.LittleEndian.PutUint64(counter[:], hi)
		h := randao.Hash(seed[:], counter[:])
		r := binary.LittleEndian.Uint64(h[:8]) % i
		idx[hi], idx[r] = idx[r], idx[hi]
	}
	return idx
}
