package crypto_test

import (
	"testing"

	"github.com/pavelsim/gorelay/pkg/crypto"
)

func TestDigestPasswordDeterministic(t *testing.T) {
	t.Parallel()

	a := crypto.DigestPassword("hunter2")
	b := crypto.DigestPassword("hunter2")
	if a != b {
		t.Errorf("DigestPassword not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("DigestPassword length = %d, want 64 hex chars", len(a))
	}
	if a == crypto.DigestPassword("hunter3") {
		t.Error("DigestPassword collision for different passwords")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	t.Parallel()

	digest := crypto.DigestPassword("correct horse")
	stored, err := crypto.HashCredential(digest)
	if err != nil {
		t.Fatalf("HashCredential: %v", err)
	}

	if !crypto.VerifyCredential(stored, digest) {
		t.Error("VerifyCredential rejected the matching digest")
	}
	if crypto.VerifyCredential(stored, crypto.DigestPassword("battery staple")) {
		t.Error("VerifyCredential accepted a wrong digest")
	}
}

func TestHashCredentialSalted(t *testing.T) {
	t.Parallel()

	digest := crypto.DigestPassword("same password")
	a, err := crypto.HashCredential(digest)
	if err != nil {
		t.Fatalf("HashCredential: %v", err)
	}
	b, err := crypto.HashCredential(digest)
	if err != nil {
		t.Fatalf("HashCredential: %v", err)
	}
	if a == b {
		t.Error("HashCredential produced identical output twice; salt not applied")
	}
}

func TestVerifyCredentialCorruptFormats(t *testing.T) {
	t.Parallel()

	type tcase struct {
		stored string
	}

	tcases := map[string]tcase{
		"empty":          {stored: ""},
		"plain_digest":   {stored: crypto.DigestPassword("x")},
		"wrong_scheme":   {stored: "bcrypt$aa$bb"},
		"bad_hex_salt":   {stored: "argon2id$zz$aabb"},
		"missing_fields": {stored: "argon2id$aabb"},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if crypto.VerifyCredential(tc.stored, crypto.DigestPassword("x")) {
				t.Errorf("VerifyCredential(%q) = true, want false", tc.stored)
			}
		})
	}
}
