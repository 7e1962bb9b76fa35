package domain

import (
	"errors"
	"testing"
)

func TestKeccak256KnownVectors(t *testing.T) {
	if got, want := Keccak256().Hex(), "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"; got != want {
		t.Fatalf("keccak256(\"\") = %s, want %s", got, want)
	}
	if got, want := HashAddress("hello").Hex(), "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"; got != want {
		t.Fatalf("keccak256(\"hello\") = %s, want %s", got, want)
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	h := HashAddress("203.0.113.5")

	for _, raw := range []string{h.Hex(), h.Hex()[2:]} {
		parsed, err := ParseHash(raw)
		if err != nil {
			t.Fatalf("ParseHash(%q): %v", raw, err)
		}
		if parsed != h {
			t.Fatalf("ParseHash(%q) = %s, want %s", raw, parsed, h)
		}
	}

	if _, err := ParseHash("0x1234"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("short hash error = %v, want ErrInvalidHash", err)
	}
	if _, err := ParseHash("0x" + string(make([]byte, 64))); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("non-hex hash error = %v, want ErrInvalidHash", err)
	}
}

func TestCanonicalAddress(t *testing.T) {
	valid := []string{"203.0.113.5", "8.8.8.8", "2001:db8::1"}
	for _, addr := range valid {
		got, err := CanonicalAddress(addr)
		if err != nil {
			t.Fatalf("CanonicalAddress(%q): %v", addr, err)
		}
		if got != addr {
			t.Fatalf("CanonicalAddress(%q) = %q", addr, got)
		}
	}

	invalid := []string{"", "   ", "not-an-ip", "2001:DB8::1", "::ffff:8.8.8.8", "fe80::1%eth0", " 8.8.8.8"}
	for _, addr := range invalid {
		if _, err := CanonicalAddress(addr); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("CanonicalAddress(%q) error = %v, want ErrInvalidAddress", addr, err)
		}
	}
}

func TestErrorCode(t *testing.T) {
	if code := ErrorCode(ErrRevealTooEarly); code != "reveal_too_early" {
		t.Fatalf("ErrorCode = %q", code)
	}
	if code := ErrorCode(errors.New("boom")); code != "internal" {
		t.Fatalf("ErrorCode(unknown) = %q, want internal", code)
	}
}
