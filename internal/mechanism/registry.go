// Package mechanism implements the Mechanism Registry (component 1) and the
// Mechanism/Parameter Validator (component 8): a static table of supported
// mechanisms and the logic that maps a caller's mechanism + parameter block
// onto concrete host algorithm identifiers.
package mechanism

import (
	"sort"

	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/cryptoutil"
)

// Info is one row of the registry: a supported mechanism's key-size range
// and usage flags, as returned by C_GetMechanismInfo.
type Info struct {
	Mechanism  uint
	MinKeyBits int
	MaxKeyBits int
	Flags      uint // CKF_ENCRYPT | CKF_DECRYPT | CKF_SIGN | CKF_VERIFY

	// HashAlg is set for mechanisms with a hash baked into their identity
	// (the CKM_SHA*_RSA_PKCS / CKM_SHA*_RSA_PKCS_PSS family); zero for
	// mechanisms whose hash is supplied by a parameter block (OAEP/PSS
	// with CKM_RSA_PKCS_PSS) or that have none (CKM_RSA_PKCS).
	HashAlg cryptoutil.HashAlgorithm
	HasHash bool

	// IsDigestCapable marks the SHA*-named mechanisms that accept
	// *-update/*-final: they are themselves both the single-shot and the
	// digest-taking identity (the digest is computed internally).
	IsDigestCapable bool

	// The table carries no output length: for "blocksize-out" probing the
	// RSA mechanisms report the key size, resolved against the actual key
	// at call time.
}

// registry is the static, process-lifetime mechanism table. RSA-1024
// through RSA-4096 is the supported key range across every RSA mechanism
// here; this engine performs no key generation, so the range only bounds
// which existing host keys are usable, not what can be created.
var registry = []Info{
	{
		Mechanism:  pkcs11.CKM_RSA_PKCS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_ENCRYPT | pkcs11.CKF_DECRYPT | pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
	},
	{
		Mechanism:  pkcs11.CKM_RSA_PKCS_OAEP,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_ENCRYPT | pkcs11.CKF_DECRYPT,
	},
	{
		Mechanism:  pkcs11.CKM_RSA_PKCS_PSS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
	},
	{
		Mechanism:  pkcs11.CKM_SHA1_RSA_PKCS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
		HashAlg: cryptoutil.HashSHA1, HasHash: true, IsDigestCapable: true,
	},
	{
		Mechanism:  pkcs11.CKM_SHA256_RSA_PKCS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
		HashAlg: cryptoutil.HashSHA256, HasHash: true, IsDigestCapable: true,
	},
	{
		Mechanism:  pkcs11.CKM_SHA384_RSA_PKCS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
		HashAlg: cryptoutil.HashSHA384, HasHash: true, IsDigestCapable: true,
	},
	{
		Mechanism:  pkcs11.CKM_SHA512_RSA_PKCS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
		HashAlg: cryptoutil.HashSHA512, HasHash: true, IsDigestCapable: true,
	},
	{
		Mechanism:  pkcs11.CKM_SHA256_RSA_PKCS_PSS,
		MinKeyBits: 1024, MaxKeyBits: 4096,
		Flags: pkcs11.CKF_SIGN | pkcs11.CKF_VERIFY,
		HashAlg: cryptoutil.HashSHA256, HasHash: true, IsDigestCapable: true,
	},
}

var byMechanism = func() map[uint]Info {
	m := make(map[uint]Info, len(registry))
	for _, info := range registry {
		m[info.Mechanism] = info
	}
	return m
}()

// List returns every supported mechanism identifier, ascending.
func List() []uint {
	out := make([]uint, 0, len(registry))
	for _, info := range registry {
		out = append(out, info.Mechanism)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup returns the registry row for mech, if supported.
func Lookup(mech uint) (Info, bool) {
	info, ok := byMechanism[mech]
	return info, ok
}
