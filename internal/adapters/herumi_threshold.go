package adapters

import (
	"strconv"
	"sync"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/ports"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/pkg/errors"
)

var (
	herumiOnce sync.Once
	herumiErr  error
)

// herumiInit allows the required curve orders and appropriate sub-groups to be initialized.
func herumiInit() error {
	herumiOnce.Do(func() {
		if err := bls.Init(bls.BLS12_381); err != nil {
			herumiErr = err
			return
		}
		if err := bls.SetETHmode(bls.EthModeDraft07); err != nil {
			herumiErr = err
			return
		}
		// Check subgroup order for pubkeys and signatures.
		bls.VerifyPublicKeyOrder(true)
		bls.VerifySignatureOrder(true)
	})
	return herumiErr
}

// ThresholdShare is one member's share of the group secret.
type ThresholdShare struct {
	Member uint64
	secret bls.SecretKey
}

// PartialSignature is a member's signature over an epoch made with its share.
type PartialSignature struct {
	Member    uint64
	Signature domain.BLSSignature
}

func memberID(member uint64) (bls.ID, error) {
	var id bls.ID
	// Member 0 would evaluate the polynomial at the secret itself.
	if member == 0 {
		return id, errors.New("member ids start at 1")
	}
	if err := id.SetDecString(strconv.FormatUint(member, 10)); err != nil {
		return id, errors.Wrapf(err, "could not set member id %d", member)
	}
	return id, nil
}

// NewThresholdGroup deals n shares of a fresh group secret, any t of which can sign for the
// group. It stands in for a distributed key generation run and returns the group public key.
func NewThresholdGroup(t, n int) (domain.BLSPubKey, []ThresholdShare, error) {
	if err := herumiInit(); err != nil {
		return domain.BLSPubKey{}, nil, errors.Wrap(err, "could not initialize bls")
	}
	if t < 1 || t > n {
		return domain.BLSPubKey{}, nil, errors.Errorf("invalid threshold %d of %d", t, n)
	}
	var master bls.SecretKey
	master.SetByCSPRNG()
	msk := master.GetMasterSecretKey(t)

	shares := make([]ThresholdShare, 0, n)
	for m := 1; m <= n; m++ {
		id, err := memberID(uint64(m))
		if err != nil {
			return domain.BLSPubKey{}, nil, err
		}
		share := ThresholdShare{Member: uint64(m)}
		if err := share.secret.Set(msk, &id); err != nil {
			return domain.BLSPubKey{}, nil, errors.Wrapf(err, "could not derive share %d", m)
		}
		shares = append(shares, share)
	}

	var groupPK domain.BLSPubKey
	copy(groupPK[:], master.GetPublicKey().Serialize())
	return groupPK, shares, nil
}

// SignEpoch signs the epoch signing root with the share.
func (s *ThresholdShare) SignEpoch(epoch domain.Epoch, sctx domain.SigningContext) (PartialSignature, error) {
	root, err := EpochSigningRoot(epoch, sctx)
	if err != nil {
		return PartialSignature{}, err
	}
	var out PartialSignature
	out.Member = s.Member
	copy(out.Signature[:], s.secret.SignByte(root[:]).Serialize())
	return out, nil
}

// CombinePartials recovers the group signature from at least t partial signatures by
// Lagrange interpolation. Duplicate members are counted once.
func CombinePartials(t int, partials []PartialSignature) (domain.BLSSignature, error) {
	if err := herumiInit(); err != nil {
		return domain.BLSSignature{}, errors.Wrap(err, "could not initialize bls")
	}
	seen := make(map[uint64]struct{}, len(partials))
	sigs := make([]bls.Sign, 0, t)
	ids := make([]bls.ID, 0, t)
	for _, p := range partials {
		if len(sigs) == t {
			break
		}
		if _, dup := seen[p.Member]; dup {
			continue
		}
		id, err := memberID(p.Member)
		if err != nil {
			return domain.BLSSignature{}, err
		}
		var sig bls.Sign
		if err := sig.Deserialize(p.Signature[:]); err != nil {
			return domain.BLSSignature{}, errors.Wrapf(err, "could not decode partial from member %d", p.Member)
		}
		seen[p.Member] = struct{}{}
		sigs = append(sigs, sig)
		ids = append(ids, id)
	}
	if len(sigs) < t {
		return domain.BLSSignature{}, errors.Errorf("need %d distinct partial signatures, have %d", t, len(sigs))
	}

	var group bls.Sign
	if err := group.Recover(sigs, ids); err != nil {
		return domain.BLSSignature{}, errors.Wrap(err, "could not recover group signature")
	}
	var out domain.BLSSignature
	copy(out[:], group.Serialize())
	return out, nil
}

// herumiThresholdVerifier implements ports.ThresholdVerifier against a fixed group key.
type herumiThresholdVerifier struct {
	groupPK bls.PublicKey
	sctx    domain.SigningContext
}

// NewThresholdVerifier returns a verifier for group signatures under groupPubkey.
func NewThresholdVerifier(groupPubkey domain.BLSPubKey, sctx domain.SigningContext) (ports.ThresholdVerifier, error) {
	if err := herumiInit(); err != nil {
		return nil, errors.Wrap(err, "could not initialize bls")
	}
	v := &herumiThresholdVerifier{sctx: sctx}
	if err := v.groupPK.Deserialize(groupPubkey[:]); err != nil {
		return nil, errors.Wrap(err, "could not decode group public key")
	}
	return v, nil
}

// VerifyGroupSignature checks sig over the epoch signing root.
func (v *herumiThresholdVerifier) VerifyGroupSignature(epoch domain.Epoch, sig domain.BLSSignature) error {
	var s bls.Sign
	if err := s.Deserialize(sig[:]); err != nil {
		return errors.Wrapf(domain.ErrVerificationFailed, "could not decode group signature for epoch %d", epoch)
	}
	root, err := EpochSigningRoot(epoch, v.sctx)
	if err != nil {
		return err
	}
	if !s.VerifyByte(&v.groupPK, root[:]) {
		return errors.Wrapf(domain.ErrVerificationFailed, "group signature for epoch %d", epoch)
	}
	return nil
}
