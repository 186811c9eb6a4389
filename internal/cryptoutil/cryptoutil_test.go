package cryptoutil

import (
	"bytes"
	"testing"

	"github.com/miekg/pkcs11"
)

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ZeroBytes(b)
	want := []byte{0, 0, 0, 0}
	if !bytes.Equal(b, want) {
		t.Errorf("ZeroBytes left %v, want %v", b, want)
	}
}

func TestGenerateRandomBytesLength(t *testing.T) {
	b, err := GenerateRandomBytes(16)
	if err != nil {
		t.Fatalf("GenerateRandomBytes: %v", err)
	}
	if len(b) != 16 {
		t.Errorf("len = %d, want 16", len(b))
	}
}

func TestDigestLengths(t *testing.T) {
	tests := []struct {
		alg  HashAlgorithm
		want int
	}{
		{HashSHA1, 20},
		{HashSHA256, 32},
		{HashSHA384, 48},
		{HashSHA512, 64},
	}
	for _, tt := range tests {
		got := Digest(tt.alg, []byte("message"))
		if len(got) != tt.want {
			t.Errorf("Digest(%v) length = %d, want %d", tt.alg, len(got), tt.want)
		}
	}
}

func TestHashAlgorithmFromMechanism(t *testing.T) {
	tests := []struct {
		mech uint
		want HashAlgorithm
	}{
		{pkcs11.CKM_SHA_1, HashSHA1},
		{pkcs11.CKM_SHA256, HashSHA256},
		{pkcs11.CKM_SHA384, HashSHA384},
		{pkcs11.CKM_SHA512, HashSHA512},
	}
	for _, tt := range tests {
		got, err := HashAlgorithmFromMechanism(tt.mech)
		if err != nil {
			t.Fatalf("HashAlgorithmFromMechanism(0x%x): %v", tt.mech, err)
		}
		if got != tt.want {
			t.Errorf("HashAlgorithmFromMechanism(0x%x) = %v, want %v", tt.mech, got, tt.want)
		}
	}
}

func TestHashAlgorithmFromMechanismUnsupported(t *testing.T) {
	if _, err := HashAlgorithmFromMechanism(pkcs11.CKM_RSA_PKCS); err == nil {
		t.Errorf("expected error for non-hash mechanism")
	}
}
