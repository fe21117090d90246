package game

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet is the set of characters used in room codes. 0/O, 1/I/L are left out
// so codes read back unambiguously.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultCodeLength matches codes like ABCD2345.
const DefaultCodeLength = 8

// GenerateCode returns a random room code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	code := make([]byte, length)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = CodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// NormalizeCode makes user-entered codes comparable.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
