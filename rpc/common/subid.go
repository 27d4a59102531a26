package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/holiman/uint256"
	"strconv"
	"strings"
)

// SubscriptionID is the canonical form of a server assigned subscription id.
//
// Numbers and 0x-prefixed hex strings are normalized to their 256-bit value
// (so 77 and "0x4d" are the same subscription), every other string is kept
// verbatim. The zero value is not a valid id.
type SubscriptionID string

func (s SubscriptionID) String() string {
	return string(s)
}

// ParseSubscriptionID canonicalizes the raw JSON value of a subscription id
func ParseSubscriptionID(raw json.RawMessage) (SubscriptionID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing subscription id")
	}

	// Case string: hex quantity or opaque
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid subscription id %s: %w", raw, err)
		}
		return subscriptionIDFromString(s)
	}

	// Case number: must be a non-negative integer
	v, err := uint256.FromDecimal(string(raw))
	if err != nil {
		return "", fmt.Errorf("invalid subscription id %s: %w", raw, err)
	}
	return SubscriptionID(v.Hex()), nil
}

// SubscriptionIDFrom converts any supported representation into a SubscriptionID
func SubscriptionIDFrom(v any) (SubscriptionID, error) {
	switch id := v.(type) {
	case SubscriptionID:
		if id == "" {
			return "", fmt.Errorf("missing subscription id")
		}
		return id, nil
	case *uint256.Int:
		if id == nil {
			return "", fmt.Errorf("missing subscription id")
		}
		return SubscriptionID(id.Hex()), nil
	case uint64:
		return SubscriptionID(uint256.NewInt(id).Hex()), nil
	case int:
		if id < 0 {
			return "", fmt.Errorf("negative subscription id %d", id)
		}
		return SubscriptionID(uint256.NewInt(uint64(id)).Hex()), nil
	case string:
		return subscriptionIDFromString(id)
	case json.RawMessage:
		return ParseSubscriptionID(id)
	default:
		return "", fmt.Errorf("unsupported subscription id type %T", v)
	}
}

// MustSubscriptionID is like SubscriptionIDFrom but panics on error. Intended for tests and constants.
func MustSubscriptionID(v any) SubscriptionID {
	id, err := SubscriptionIDFrom(v)
	if err != nil {
		panic(err)
	}
	return id
}

func subscriptionIDFromString(s string) (SubscriptionID, error) {
	if s == "" {
		return "", fmt.Errorf("missing subscription id")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			digits = "0"
		}
		if v, err := uint256.FromHex("0x" + strings.ToLower(digits)); err == nil {
			return SubscriptionID(v.Hex()), nil
		}
	}
	// decimal strings are numbers too
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		if v, err := uint256.FromDecimal(s); err == nil {
			return SubscriptionID(v.Hex()), nil
		}
	}
	return SubscriptionID(s), nil
}
