package config

import (
	"fmt"
	"strings"

	"github.com/Marketen/randao-duties/internal/application/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func decodeFixed(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}

// ParseRoot decodes a 32-byte hex value, with or without a 0x prefix.
func ParseRoot(s string) (domain.Root, error) {
	var r domain.Root
	b, err := decodeFixed(s, len(r))
	if err != nil {
		return r, err
	}
	copy(r[:], b)
	return r, nil
}

// ParsePubkey decodes a 48-byte hex BLS public key, with or without a 0x prefix.
func ParsePubkey(s string) (domain.BLSPubKey, error) {
	var pk domain.BLSPubKey
	b, err := decodeFixed(s, len(pk))
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}
