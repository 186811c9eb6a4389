// Package cryptoutil provides the small set of primitive helpers the engine
// needs around the host's RSA/SHA-2 operations: secure zeroing of key
// material and PIN buffers, and a thin digest dispatch table.
package cryptoutil

import (
	"crypto"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/miekg/pkcs11"
)

// ZeroBytes overwrites b with zeros in place. Called on PIN buffers and any
// plaintext/key material once an operation using them has completed, so a
// stale reference holding the backing array doesn't keep secrets resident
// longer than necessary.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateRandomBytes returns n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HashAlgorithm identifies one of the digest algorithms the mechanism table
// references, independent of any one mechanism's CKM_* identity.
type HashAlgorithm int

const (
	HashSHA1 HashAlgorithm = iota
	HashSHA256
	HashSHA384
	HashSHA512
	// HashNone marks CKM_RSA_PKCS raw signing: the caller has already built
	// the DigestInfo and no internal hashing should occur.
	HashNone
)

// CryptoHash returns the crypto.Hash value backing alg, for use with
// rsa.SignPSS / rsa.SignPKCS1v15 / rsa.DecryptOAEP.
func (alg HashAlgorithm) CryptoHash() crypto.Hash {
	switch alg {
	case HashSHA1:
		return crypto.SHA1
	case HashSHA384:
		return crypto.SHA384
	case HashSHA512:
		return crypto.SHA512
	case HashNone:
		return crypto.Hash(0)
	default:
		return crypto.SHA256
	}
}

// Digest computes the digest of data under alg.
func Digest(alg HashAlgorithm, data []byte) []byte {
	switch alg {
	case HashSHA1:
		sum := sha1.Sum(data)
		return sum[:]
	case HashSHA384:
		sum := sha512.Sum384(data)
		return sum[:]
	case HashSHA512:
		sum := sha512.Sum512(data)
		return sum[:]
	default:
		sum := sha256.Sum256(data)
		return sum[:]
	}
}

// HashAlgorithmFromMechanism maps a CKM_* hash-mechanism identity onto a
// HashAlgorithm, as used by the OAEP/PSS parameter validator to resolve the
// hashAlg field of a CK_RSA_PKCS_OAEP_PARAMS / CK_RSA_PKCS_PSS_PARAMS.
func HashAlgorithmFromMechanism(mech uint) (HashAlgorithm, error) {
	switch mech {
	case pkcs11.CKM_SHA_1:
		return HashSHA1, nil
	case pkcs11.CKM_SHA256:
		return HashSHA256, nil
	case pkcs11.CKM_SHA384:
		return HashSHA384, nil
	case pkcs11.CKM_SHA512:
		return HashSHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash mechanism 0x%x", mech)
	}
}
