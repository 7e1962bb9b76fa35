package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashLength is the size of a Keccak-256 digest.
const HashLength = 32

// Hash is a Keccak-256 digest. Address hashes and commitment keys use it.
type Hash [HashLength]byte

var ErrInvalidHash = errors.New("invalid hash")

// Keccak256 hashes the concatenation of the given byte slices.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// HashAddress returns keccak256(utf8(address)), the value a reporter commits to.
func HashAddress(address string) Hash {
	return Keccak256([]byte(address))
}

// ParseHash accepts a 64 character hex string with or without the 0x prefix.
func ParseHash(raw string) (Hash, error) {
	var h Hash
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if len(s) != HashLength*2 {
		return h, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidHash, HashLength*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return h, nil
}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
