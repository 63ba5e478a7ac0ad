// Package conversation derives canonical addresses for two-party
// conversations. The address is independent of which party initiates, so
// every read and write for a pair lands on the same partition.
package conversation

import (
	"errors"
	"strings"
)

// Separator joins the two identities of a canonical address.
const Separator = "&"

// ErrInvalidIdentity marks an identity that cannot participate in addressing.
var ErrInvalidIdentity = errors.New("invalid identity")

// ValidateIdentity rejects identities that would produce a malformed address.
// Callers validate before invoking Address.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return ErrInvalidIdentity
	}
	if strings.Contains(identity, Separator) {
		return ErrInvalidIdentity
	}
	return nil
}

// Address returns the canonical address for the conversation between a and b.
// It is commutative: Address(a, b) == Address(b, a). Inputs are assumed to
// have passed ValidateIdentity.
func Address(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}
