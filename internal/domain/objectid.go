package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeObjectID returns the canonical 0x-prefixed, 64 hex digit form of
// an object id or account address. Short forms such as "0x2" are left-padded.
func NormalizeObjectID(id string) (string, error) {
	s := strings.TrimSpace(id)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 2*common.HashLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectID, id)
	}
	for _, c := range s {
		if !isHexDigit(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidObjectID, id)
		}
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return common.HexToHash(s).Hex(), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
