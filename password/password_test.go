package password

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct-horse" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !Verify("correct-horse", hash) {
		t.Fatal("expected the original password to verify")
	}
	if Verify("correct-horsf", hash) {
		t.Fatal("expected a near-miss password to fail")
	}
}

func TestHashRejectsShortPasswords(t *testing.T) {
	if _, err := Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestVerifyIsExactMatch(t *testing.T) {
	hash, err := Hash("  padded-pass  ")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	// No trimming or normalization on either side.
	if Verify("padded-pass", hash) {
		t.Fatal("expected trimmed variant to fail")
	}
	if Verify(strings.ToUpper("  padded-pass  "), hash) {
		t.Fatal("expected case variant to fail")
	}
	if !Verify("  padded-pass  ", hash) {
		t.Fatal("expected byte-exact password to verify")
	}
}

func TestVerifyEmptyHashNeverMatches(t *testing.T) {
	if Verify("anything", "") {
		t.Fatal("empty hash must never match")
	}
}
