package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/ports"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// fileThresholdSource reads group signatures dropped into a directory by the signing group,
// one file per epoch named "<epoch>.sig" holding the 0x-prefixed hex signature.
type fileThresholdSource struct {
	dir string
}

// NewFileThresholdSource returns a ThresholdSource polling dir.
func NewFileThresholdSource(dir string) (ports.ThresholdSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "could not open threshold signature directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}
	return &fileThresholdSource{dir: dir}, nil
}

// ThresholdSignaturePath is where the signature for epoch is expected inside dir.
func ThresholdSignaturePath(dir string, epoch domain.Epoch) string {
	return filepath.Join(dir, fmt.Sprintf("%d.sig", uint64(epoch)))
}

func (f *fileThresholdSource) GetGroupSignature(_ context.Context, epoch domain.Epoch) (domain.BLSSignature, bool, error) {
	var sig domain.BLSSignature
	raw, err := os.ReadFile(ThresholdSignaturePath(f.dir, epoch))
	if errors.Is(err, os.ErrNotExist) {
		return sig, false, nil
	}
	if err != nil {
		return sig, false, errors.Wrapf(err, "could not read group signature for epoch %d", epoch)
	}
	b, err := hexutil.Decode(strings.TrimSpace(string(raw)))
	if err != nil {
		return sig, false, errors.Wrapf(err, "malformed group signature for epoch %d", epoch)
	}
	if len(b) != len(sig) {
		return sig, false, errors.Errorf("group signature for epoch %d is %d bytes", epoch, len(b))
	}
	copy(sig[:], b)
	return sig, true, nil
}
