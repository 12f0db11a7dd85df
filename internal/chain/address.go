package chain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-bot/internal/types"
	"golang.org/x/crypto/sha3"
)

// ToChecksumAddress returns the EIP-55 form of addr.
func ToChecksumAddress(addr string) (string, error) {
	a, err := stripHex(addr)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(a)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hexhash := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, ch := range out {
		if ch < 'a' || ch > 'f' {
			continue
		}
		nibble := hexhash[i]
		if nibble >= '8' {
			out[i] = ch - 'a' + 'A'
		}
	}
	return "0x" + string(out), nil
}

// ParseAddress accepts all-lower or all-upper hex, or a mixed-case address with
// a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	a, err := stripHex(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: address %q: %v", types.ErrValidation, s, err)
	}
	if a != strings.ToLower(a) && a != strings.ToUpper(a) {
		want, _ := ToChecksumAddress(a)
		if want[2:] != a {
			return common.Address{}, fmt.Errorf("%w: address %q has a bad checksum", types.ErrValidation, s)
		}
	}
	return common.HexToAddress(a), nil
}

func stripHex(addr string) (string, error) {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "", fmt.Errorf("empty address")
	}
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		a = a[2:]
	}
	if len(a) != 40 {
		return "", fmt.Errorf("bad hex length: %d", len(a))
	}
	if _, err := hex.DecodeString(a); err != nil {
		return "", fmt.Errorf("not hex: %w", err)
	}
	return a, nil
}
