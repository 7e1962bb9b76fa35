package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

// CanonicalAddress validates that raw is an IP literal in its canonical text
// form. Non-canonical spellings are rejected instead of rewritten, because the
// committed hash covers the exact string the reporter used and a second
// spelling of a whitelisted address must not slip past the registry.
func CanonicalAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	if addr.Zone() != "" {
		return "", fmt.Errorf("%w: zoned address %q", ErrInvalidAddress, raw)
	}
	canonical := addr.Unmap().String()
	if canonical != raw {
		return "", fmt.Errorf("%w: %q is not canonical (use %q)", ErrInvalidAddress, raw, canonical)
	}
	return canonical, nil
}
