// Package model holds the engine's core data types: slots, tokens,
// identities, objects and attributes, exactly as spec'd in the data model —
// plus the mutexes each owns, since lock granularity is part of the type.
package model

import (
	"sync"
	"sync/atomic"

	"github.com/miekg/pkcs11"
)

// ObjectClass is the closed set of object classes a token's object list may
// contain.
type ObjectClass uint

// ClassTrust uses the vendor-defined object class range the same way NSS's
// pkcs11n.h places CKO_NETSCAPE_TRUST relative to CKO_VENDOR_DEFINED; it is
// not part of the standard Cryptoki v2.40 header.
const (
	ClassCertificate ObjectClass = pkcs11.CKO_CERTIFICATE
	ClassPublicKey   ObjectClass = pkcs11.CKO_PUBLIC_KEY
	ClassPrivateKey  ObjectClass = pkcs11.CKO_PRIVATE_KEY
	ClassTrust       ObjectClass = pkcs11.CKO_VENDOR_DEFINED + 3
)

// Vendor-defined (NSS-style) attribute types used only by trust objects.
const (
	AttrTrustServerAuth      uint = uint(pkcs11.CKA_VENDOR_DEFINED) + 0x2108
	AttrTrustClientAuth      uint = uint(pkcs11.CKA_VENDOR_DEFINED) + 0x2109
	AttrTrustEmailProtection uint = uint(pkcs11.CKA_VENDOR_DEFINED) + 0x210A
	AttrTrustCodeSigning     uint = uint(pkcs11.CKA_VENDOR_DEFINED) + 0x210B
	AttrCertSHA1Hash         uint = uint(pkcs11.CKA_VENDOR_DEFINED) + 0x3001
)

// Attribute is a (type, value) pair; length is len(Value).
type Attribute struct {
	Type  uint
	Value []byte
}

// Len returns the attribute's declared length.
func (a Attribute) Len() int { return len(a.Value) }

// Object is a per-token, attribute-bearing entry in the object list. Handles
// are 1-based indices into the owning token's Objects slice; ID is stable
// for the token's lifetime.
type Object struct {
	ID         uint
	Class      ObjectClass
	IdentityID int // zero-based index into the owning token's Identities, or -1
	Attributes []Attribute

	// KeyHandle is the host's opaque handle for public/private key objects,
	// used to dispatch HostCrypto calls; zero for certificate/trust objects.
	KeyHandle uintptr
}

// Attr returns the value bytes for attrType and whether it was found.
func (o *Object) Attr(attrType uint) ([]byte, bool) {
	for _, a := range o.Attributes {
		if a.Type == attrType {
			return a.Value, true
		}
	}
	return nil, false
}

// Identity is owned by exactly one token: a (certificate, private key,
// public key) triple backed by a hardware-protected private key.
type Identity struct {
	CertificateDER    []byte
	PrivateKeyHandle  uintptr
	PublicKeyHandle   uintptr
	PublicKeyHash     []byte
	KeyType           uint // Cryptoki CKK_* value
	AccessControlRef  uintptr
	Label             string

	PrivCanSign    bool
	PrivCanDecrypt bool
	PubCanVerify   bool
	PubCanEncrypt  bool
	PubCanWrap     bool // implies PubCanEncrypt
}

// Token is owned by a slot; created by the insertion handler and destroyed
// when RefCount reaches zero.
type Token struct {
	mu sync.Mutex

	TokenID    string // opaque token identifier, compared for equality on removal
	Label      string
	Identities []Identity
	Objects    []*Object

	LoggedIn       bool
	AuthContext    any // local-authentication context; nil if host refused to allocate one
	RefCount       int32
}

// NewToken builds a Token with RefCount 1 (the registry's own reference).
func NewToken(tokenID, label string, identities []Identity, objects []*Object) *Token {
	return &Token{
		TokenID:    tokenID,
		Label:      label,
		Identities: identities,
		Objects:    objects,
		RefCount:   1,
	}
}

// Lock / Unlock guard Token's mutable fields: identity-list growth, the
// logged-in flag, refcount, label, local-auth context. Objects are immutable
// after construction and may be read without the lock.
func (t *Token) Lock()   { t.mu.Lock() }
func (t *Token) Unlock() { t.mu.Unlock() }

// Retain increments the token's refcount. Must be called with the
// slot-registry-lock (or equivalent ownership) held by the caller, since the
// refcount models shared ownership between the registry and open sessions.
func (t *Token) Retain() int32 {
	return atomic.AddInt32(&t.RefCount, 1)
}

// Release decrements the token's refcount and reports the value after
// decrement. A drop to 1 means every session has closed but the slot still
// holds the token (logout should fire); a drop to 0 means the token should
// be freed.
func (t *Token) Release() int32 {
	return atomic.AddInt32(&t.RefCount, -1)
}

func (t *Token) RefCountValue() int32 {
	return atomic.LoadInt32(&t.RefCount)
}

// Slot is an integer-indexed entry in a dense array; zero or one Token.
type Slot struct {
	Index int
	Token *Token // nil when empty
}

func (s *Slot) Occupied() bool { return s.Token != nil }

// CertSlotState is the atomic tri-state gating the certificate-slot
// background scan.
type CertSlotState int32

const (
	CertSlotUninitialized CertSlotState = iota
	CertSlotInitializing
	CertSlotInitialized
)

// CertRecord pairs a scanned certificate with its public-key hash, as the
// global, process-lifetime certificate list the engine maintains.
type CertRecord struct {
	Certificate []byte // DER
	PublicKeyHash []byte
}
