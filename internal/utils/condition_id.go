package utils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// NormalizeConditionID canonicalizes a 32-byte condition identifier to
// lowercase 0x-prefixed hex. The event feed delivers hex ids while operators
// and on-chain tooling commonly paste base58, so both encodings are accepted.
func NormalizeConditionID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty condition id")
	}

	hexPart := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(hexPart) == 64 {
		if _, err := hex.DecodeString(hexPart); err == nil {
			return "0x" + hexPart, nil
		}
	}

	// Fall back to base58 (Solana account key encoding)
	decoded, err := base58.Decode(s)
	if err == nil && len(decoded) == 32 {
		return "0x" + hex.EncodeToString(decoded), nil
	}

	return "", fmt.Errorf("invalid condition id %q: expected 32-byte hex or base58", raw)
}

// ConditionIDBytes decodes a canonical condition id into its 32 raw bytes
func ConditionIDBytes(id string) ([]byte, error) {
	canonical, err := NormalizeConditionID(id)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(canonical, "0x"))
}
