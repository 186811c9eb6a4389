// Package hostapi defines the engine's external collaborators: the
// token-insertion/removal notification source, the
// host identity/key query interface, the local-authentication subsystem, the
// message-digest primitive, and certificate-parsing helpers. The engine only
// ever depends on these interfaces; a software reference implementation
// backing them lives in software.go for use by tests.
package hostapi

import (
	"context"

	"hostcryptoki/internal/cryptoutil"
)

// TokenEventKind distinguishes an insertion from a removal notification.
type TokenEventKind int

const (
	TokenAdded TokenEventKind = iota
	TokenRemoved
)

// TokenEvent is delivered by the Watcher for each insertion/removal.
type TokenEvent struct {
	Kind    TokenEventKind
	TokenID string
}

// Watcher is the asynchronous token-insertion/removal notification source.
type Watcher interface {
	// Start begins delivering events on the returned channel until ctx is
	// canceled or Stop is called. The channel is closed once delivery stops.
	Start(ctx context.Context) (<-chan TokenEvent, error)
	Stop()
}

// IdentityRecord is what the host returns for one identity in a token's
// access group: a persistent, host-scoped reference plus its attribute
// dictionary, before the identity's been bound to an authentication context.
type IdentityRecord struct {
	PersistentRef  uintptr
	Label          string // default "Hardware token" if absent
	KeyType        uint   // mapped through a small table to CKK_*, else vendor-defined
	PublicKeyHash  []byte
	PrivCanSign    bool
	PrivCanDecrypt bool
}

// StrongIdentity is the identity handle bound to a local-authentication
// context, obtained by re-querying the host with an IdentityRecord's
// persistent reference.
type StrongIdentity struct {
	CertificateDER   []byte
	PrivateKeyHandle uintptr
	PublicKeyHandle  uintptr
	AccessControlRef uintptr
}

// IdentityStore is the host identity/key query interface: component 3
// (Identity Loader) queries it for identities, their attributes and, for the
// certificate slot, the trusted-certificate list.
type IdentityStore interface {
	// QueryIdentities returns every identity record in tokenID's access
	// group. A host error for one record must not abort the rest; the
	// caller (Identity Loader) is responsible for per-record isolation,
	// so implementations report per-record errors out of band (e.g. by
	// omitting the record) rather than failing the whole call.
	QueryIdentities(tokenID string) ([]IdentityRecord, error)

	// ResolveStrongIdentity re-queries persistentRef with authCtx attached.
	ResolveStrongIdentity(persistentRef uintptr, authCtx any) (StrongIdentity, error)

	// KeyLabel returns the host's label for a private key handle, used
	// as the private-key object's CKA_LABEL (distinct from the identity's
	// own label, which names the public key and certificate objects).
	KeyLabel(privateKeyHandle uintptr) (string, error)

	// PublicKeyCapabilities reports the usage flags the host records for
	// a public key: verify, encrypt, and wrap (wrap implies encrypt).
	PublicKeyCapabilities(publicKeyHandle uintptr) (canVerify, canEncrypt, canWrap bool, err error)

	// TrustedCertificates returns every certificate (DER) in the platform
	// trust store, for the certificate-slot scan.
	TrustedCertificates() ([][]byte, error)
}

// AuthUsage selects which capability the local-authentication subsystem is
// being asked to authorize: sign or decrypt.
type AuthUsage int

const (
	AuthUsageSign AuthUsage = iota
	AuthUsageDecrypt
)

// LocalAuth is the local-authentication subsystem: it binds a PIN to an
// identity's access-control reference for subsequent private-key use.
type LocalAuth interface {
	// NewContext allocates a context for tokenID. May return (nil, nil) if
	// the host refuses to allocate one ("local-auth
	// context optional").
	NewContext(tokenID string) (any, error)

	// Authenticate binds pin to accessControlRef under ctx for usage.
	Authenticate(ctx any, accessControlRef uintptr, pin []byte, usage AuthUsage) error

	// Release tears down ctx, called on logout.
	Release(ctx any)
}

// HostCrypto is the set of crypto primitives the host identity/key query
// interface exposes against resolved key handles: single-shot sign/verify
// and encrypt/decrypt, keyed by hash and MGF algorithm identity so the
// mechanism/parameter validator can dispatch without knowing the host's
// internal representation.
type HostCrypto interface {
	ModulusBitLen(publicKeyHandle uintptr) (int, error)
	ModulusAndExponent(publicKeyHandle uintptr) (modulus, exponent []byte, err error)

	SignPKCS1v15(privateKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest []byte) ([]byte, error)
	SignPSS(privateKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest []byte, saltLen int) ([]byte, error)
	VerifyPKCS1v15(publicKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest, sig []byte) error
	VerifyPSS(publicKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest, sig []byte, saltLen int) error

	EncryptOAEP(publicKeyHandle uintptr, hash, mgfHash cryptoutil.HashAlgorithm, plaintext []byte) ([]byte, error)
	DecryptOAEP(privateKeyHandle uintptr, hash, mgfHash cryptoutil.HashAlgorithm, ciphertext []byte) ([]byte, error)
	EncryptPKCS1v15(publicKeyHandle uintptr, plaintext []byte) ([]byte, error)
	DecryptPKCS1v15(privateKeyHandle uintptr, ciphertext []byte) ([]byte, error)
}

// Digest is the message-digest primitive collaborator.
type Digest interface {
	Sum(alg cryptoutil.HashAlgorithm, data []byte) []byte
}

// CertInfo is what the certificate-parsing helper extracts.
type CertInfo struct {
	Subject      []byte
	Issuer       []byte
	SerialNumber []byte
	CommonName   string
	IsCA         bool
	SHA1         []byte
}

// CertParser is the certificate-parsing-helpers collaborator.
type CertParser interface {
	Parse(der []byte) (CertInfo, error)
}
