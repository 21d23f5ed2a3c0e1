package randao

import (
	"github.com/Marketen/randao-duties/internal/application/domain"
	sha256 "github.com/minio/sha256-simd"
)

// Hash returns the SHA-256 digest of the concatenated inputs.
func Hash(data ...[]byte) domain.Root {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out domain.Root
	copy(out[:], h.Sum(nil))
	return out
}

// ChainHash hashes data and then re-hashes the digest until rounds hashes have been applied.
// A rounds value of zero is treated as one.
func ChainHash(data []byte, rounds int) domain.Root {
	out := domain.Root(sha256.Sum256(data))
	for i := 1; i < rounds; i++ {
		out = sha256.Sum256(out[:])
	}
	return out
}
