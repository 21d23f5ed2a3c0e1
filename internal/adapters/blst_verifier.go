package adapters

import (
	"runtime"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/ports"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	blst "github.com/supranational/blst/bindings/go"
)

type blstPublicKey = blst.P1Affine
type blstSignature = blst.P2Affine

const maxCachedKeys = int64(1 << 20)

func init() {
	// Reserve 1 core for general application work
	maxProcs := runtime.GOMAXPROCS(0) - 1
	if maxProcs <= 0 {
		maxProcs = 1
	}
	blst.SetMaxProcs(maxProcs)
}

// blstVerifier implements ports.RevealVerifier with the blst min-pk scheme.
type blstVerifier struct {
	pubkeyCache *ristretto.Cache
}

// NewBlstVerifier returns a reveal verifier with a decompressed public key cache.
func NewBlstVerifier() (ports.RevealVerifier, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCachedKeys * 10,
		MaxCost:     maxCachedKeys,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create public key cache")
	}
	return &blstVerifier{pubkeyCache: cache}, nil
}

func (v *blstVerifier) publicKey(raw domain.BLSPubKey) (*blstPublicKey, error) {
	if cached, ok := v.pubkeyCache.Get(string(raw[:])); ok {
		return cached.(*blstPublicKey), nil
	}
	// Subgroup check done when decompressing pubkey.
	pk := new(blstPublicKey).Uncompress(raw[:])
	if pk == nil || !pk.KeyValidate() {
		return nil, errors.Errorf("invalid public key %#x", raw[:])
	}
	v.pubkeyCache.Set(string(raw[:]), pk, 1)
	return pk, nil
}

// VerifyReveal checks sig against the epoch signing root under pubkey.
func (v *blstVerifier) VerifyReveal(
	pubkey domain.BLSPubKey,
	epoch domain.Epoch,
	sig domain.BLSSignature,
	sctx domain.SigningContext,
) error {
	pk, err := v.publicKey(pubkey)
	if err != nil {
		return errors.Wrap(domain.ErrVerificationFailed, err.Error())
	}
	s := new(blstSignature).Uncompress(sig[:])
	if s == nil {
		return errors.Wrapf(domain.ErrVerificationFailed, "could not decompress reveal for epoch %d", epoch)
	}
	root, err := EpochSigningRoot(epoch, sctx)
	if err != nil {
		return err
	}
	if !s.Verify(true, pk, false, root[:], domain.BLSDST) {
		return errors.Wrapf(domain.ErrVerificationFailed, "reveal for epoch %d", epoch)
	}
	return nil
}

// SignReveal produces a reveal with a raw 32-byte secret key. Used by tests and local tooling.
func SignReveal(secretKey []byte, epoch domain.Epoch, sctx domain.SigningContext) (domain.BLSSignature, error) {
	sk := new(blst.SecretKey).Deserialize(secretKey)
	if sk == nil {
		return domain.BLSSignature{}, errors.New("could not unmarshal bytes into secret key")
	}
	root, err := EpochSigningRoot(epoch, sctx)
	if err != nil {
		return domain.BLSSignature{}, err
	}
	var out domain.BLSSignature
	copy(out[:], new(blstSignature).Sign(sk, root[:], domain.BLSDST).Compress())
	return out, nil
}

// KeyFromSeed derives a key pair from at least 32 bytes of input key material.
func KeyFromSeed(ikm []byte) (secretKey []byte, pubkey domain.BLSPubKey, err error) {
	if len(ikm) < 32 {
		return nil, domain.BLSPubKey{}, errors.New("input key material must be at least 32 bytes")
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, domain.BLSPubKey{}, errors.New("key generation failed")
	}
	copy(pubkey[:], new(blstPublicKey).From(sk).Compress())
	return sk.Serialize(), pubkey, nil
}
