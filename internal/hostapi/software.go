package hostapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/cryptoutil"
)

// SoftwareHost is a self-contained, in-memory reference implementation of
// every external collaborator, backed by real RSA keys and real
// certificates. It exists so the engine's tests exercise genuine crypto
// instead of a stub that always "succeeds".
type SoftwareHost struct {
	mu sync.Mutex

	nextHandle uintptr
	privKeys   map[uintptr]*rsa.PrivateKey
	pubKeys    map[uintptr]*rsa.PublicKey
	labels     map[uintptr]string

	tokens map[string][]IdentityRecord
	pins   map[uintptr][]byte // accessControlRef -> correct PIN

	certs [][]byte

	events chan TokenEvent

	extrasMu sync.Mutex
	extras   map[uintptr]identityExtra
}

// NewSoftwareHost creates an empty host with no tokens and no trusted
// certificates.
func NewSoftwareHost() *SoftwareHost {
	return &SoftwareHost{
		privKeys: make(map[uintptr]*rsa.PrivateKey),
		pubKeys:  make(map[uintptr]*rsa.PublicKey),
		labels:   make(map[uintptr]string),
		tokens:   make(map[string][]IdentityRecord),
		pins:     make(map[uintptr][]byte),
		events:   make(chan TokenEvent, 16),
		extras:   make(map[uintptr]identityExtra),
	}
}

func (h *SoftwareHost) allocHandle() uintptr {
	return atomic.AddUintptr(&h.nextHandle, 1)
}

// identityExtra carries the bits QueryIdentities doesn't but
// ResolveStrongIdentity and Object Builder need; keyed by PersistentRef.
type identityExtra struct {
	certDER          []byte
	pub              uintptr
	priv             uintptr
	accessControlRef uintptr
	canVerify        bool
	canEncrypt       bool
	canWrap          bool
}

// AddIdentity generates a fresh RSA-2048 identity on tokenID with a
// self-signed certificate for commonName, and returns its PersistentRef.
func (h *SoftwareHost) AddIdentity(tokenID, commonName string, pin []byte, canSign, canDecrypt bool) (uintptr, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return 0, err
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return 0, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		Issuer:       pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	persistentRef := h.allocHandle()
	privHandle := h.allocHandle()
	pubHandle := h.allocHandle()
	acr := h.allocHandle()

	h.privKeys[privHandle] = key
	h.pubKeys[pubHandle] = &key.PublicKey
	h.labels[privHandle] = commonName
	h.pins[acr] = pin

	pubHash := sha256.Sum256(x509MarshalPKIXOrEmpty(&key.PublicKey))

	h.tokens[tokenID] = append(h.tokens[tokenID], IdentityRecord{
		PersistentRef:  persistentRef,
		Label:          commonName,
		KeyType:        pkcs11.CKK_RSA,
		PublicKeyHash:  pubHash[:],
		PrivCanSign:    canSign,
		PrivCanDecrypt: canDecrypt,
	})
	h.mu.Unlock()

	h.extrasMu.Lock()
	h.extras[persistentRef] = identityExtra{
		certDER:          der,
		pub:              pubHandle,
		priv:             privHandle,
		accessControlRef: acr,
		canVerify:        canSign,
		canEncrypt:       canDecrypt,
		canWrap:          false,
	}
	h.extrasMu.Unlock()

	return persistentRef, nil
}

func x509MarshalPKIXOrEmpty(pub *rsa.PublicKey) []byte {
	b, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil
	}
	return b
}

// AddTrustedCertificate registers der as part of the platform trust store
// the certificate scan enumerates.
func (h *SoftwareHost) AddTrustedCertificate(der []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.certs = append(h.certs, der)
}

// RemoveToken emits a removal event for tokenID and drops its identities
// from the host, simulating real hot-unplug.
func (h *SoftwareHost) RemoveToken(tokenID string) {
	h.mu.Lock()
	delete(h.tokens, tokenID)
	h.mu.Unlock()
	h.events <- TokenEvent{Kind: TokenRemoved, TokenID: tokenID}
}

// NotifyInsert emits an insertion event for a token already populated via
// AddIdentity.
func (h *SoftwareHost) NotifyInsert(tokenID string) {
	h.events <- TokenEvent{Kind: TokenAdded, TokenID: tokenID}
}

// Start implements Watcher.
func (h *SoftwareHost) Start(ctx context.Context) (<-chan TokenEvent, error) {
	out := make(chan TokenEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-h.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (h *SoftwareHost) Stop() {}

// QueryIdentities implements IdentityStore.
func (h *SoftwareHost) QueryIdentities(tokenID string) ([]IdentityRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	records := h.tokens[tokenID]
	out := make([]IdentityRecord, len(records))
	copy(out, records)
	return out, nil
}

func (h *SoftwareHost) ResolveStrongIdentity(persistentRef uintptr, authCtx any) (StrongIdentity, error) {
	h.extrasMu.Lock()
	ex, ok := h.extras[persistentRef]
	h.extrasMu.Unlock()
	if !ok {
		return StrongIdentity{}, fmt.Errorf("unknown identity reference")
	}
	return StrongIdentity{
		CertificateDER:   ex.certDER,
		PrivateKeyHandle: ex.priv,
		PublicKeyHandle:  ex.pub,
		AccessControlRef: ex.accessControlRef,
	}, nil
}

func (h *SoftwareHost) KeyLabel(privateKeyHandle uintptr) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	label, ok := h.labels[privateKeyHandle]
	if !ok {
		return "", fmt.Errorf("unknown private key handle")
	}
	return label, nil
}

func (h *SoftwareHost) PublicKeyCapabilities(publicKeyHandle uintptr) (canVerify, canEncrypt, canWrap bool, err error) {
	h.extrasMu.Lock()
	defer h.extrasMu.Unlock()
	for _, ex := range h.extras {
		if ex.pub == publicKeyHandle {
			return ex.canVerify, ex.canEncrypt, ex.canWrap, nil
		}
	}
	return false, false, false, fmt.Errorf("unknown public key handle")
}

func (h *SoftwareHost) TrustedCertificates() ([][]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.certs))
	copy(out, h.certs)
	return out, nil
}

// NewContext implements LocalAuth.
func (h *SoftwareHost) NewContext(tokenID string) (any, error) {
	return tokenID, nil
}

func (h *SoftwareHost) Authenticate(ctx any, accessControlRef uintptr, pin []byte, usage AuthUsage) error {
	h.mu.Lock()
	want, ok := h.pins[accessControlRef]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown access control reference")
	}
	if !bytes.Equal(want, pin) {
		return fmt.Errorf("pin rejected")
	}
	return nil
}

func (h *SoftwareHost) Release(ctx any) {}

// ModulusBitLen implements HostCrypto.
func (h *SoftwareHost) ModulusBitLen(publicKeyHandle uintptr) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pub, ok := h.pubKeys[publicKeyHandle]
	if !ok {
		return 0, fmt.Errorf("unknown public key handle")
	}
	return pub.N.BitLen(), nil
}

func (h *SoftwareHost) ModulusAndExponent(publicKeyHandle uintptr) ([]byte, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pub, ok := h.pubKeys[publicKeyHandle]
	if !ok {
		return nil, nil, fmt.Errorf("unknown public key handle")
	}
	exp := big.NewInt(int64(pub.E)).Bytes()
	return pub.N.Bytes(), exp, nil
}

func (h *SoftwareHost) privKey(handle uintptr) (*rsa.PrivateKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, ok := h.privKeys[handle]
	if !ok {
		return nil, fmt.Errorf("unknown private key handle")
	}
	return k, nil
}

func (h *SoftwareHost) pubKey(handle uintptr) (*rsa.PublicKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, ok := h.pubKeys[handle]
	if !ok {
		return nil, fmt.Errorf("unknown public key handle")
	}
	return k, nil
}

func (h *SoftwareHost) SignPKCS1v15(privateKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest []byte) ([]byte, error) {
	key, err := h.privKey(privateKeyHandle)
	if err != nil {
		return nil, err
	}
	return rsa.SignPKCS1v15(rand.Reader, key, hash.CryptoHash(), digest)
}

func (h *SoftwareHost) SignPSS(privateKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest []byte, saltLen int) ([]byte, error) {
	key, err := h.privKey(privateKeyHandle)
	if err != nil {
		return nil, err
	}
	return rsa.SignPSS(rand.Reader, key, hash.CryptoHash(), digest, &rsa.PSSOptions{SaltLength: saltLen, Hash: hash.CryptoHash()})
}

func (h *SoftwareHost) VerifyPKCS1v15(publicKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest, sig []byte) error {
	key, err := h.pubKey(publicKeyHandle)
	if err != nil {
		return err
	}
	return rsa.VerifyPKCS1v15(key, hash.CryptoHash(), digest, sig)
}

func (h *SoftwareHost) VerifyPSS(publicKeyHandle uintptr, hash cryptoutil.HashAlgorithm, digest, sig []byte, saltLen int) error {
	key, err := h.pubKey(publicKeyHandle)
	if err != nil {
		return err
	}
	return rsa.VerifyPSS(key, hash.CryptoHash(), digest, sig, &rsa.PSSOptions{SaltLength: saltLen, Hash: hash.CryptoHash()})
}

func (h *SoftwareHost) EncryptOAEP(publicKeyHandle uintptr, hashAlg, mgfHash cryptoutil.HashAlgorithm, plaintext []byte) ([]byte, error) {
	key, err := h.pubKey(publicKeyHandle)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(hashAlg.CryptoHash().New(), rand.Reader, key, plaintext, nil)
}

func (h *SoftwareHost) DecryptOAEP(privateKeyHandle uintptr, hashAlg, mgfHash cryptoutil.HashAlgorithm, ciphertext []byte) ([]byte, error) {
	key, err := h.privKey(privateKeyHandle)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(hashAlg.CryptoHash().New(), rand.Reader, key, ciphertext, nil)
}

func (h *SoftwareHost) EncryptPKCS1v15(publicKeyHandle uintptr, plaintext []byte) ([]byte, error) {
	key, err := h.pubKey(publicKeyHandle)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptPKCS1v15(rand.Reader, key, plaintext)
}

func (h *SoftwareHost) DecryptPKCS1v15(privateKeyHandle uintptr, ciphertext []byte) ([]byte, error) {
	key, err := h.privKey(privateKeyHandle)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
}

// Sum implements Digest.
func (h *SoftwareHost) Sum(alg cryptoutil.HashAlgorithm, data []byte) []byte {
	return cryptoutil.Digest(alg, data)
}

// Parse implements CertParser using crypto/x509.
func (h *SoftwareHost) Parse(der []byte) (CertInfo, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return CertInfo{}, err
	}
	sha1sum := sha1.Sum(der)
	return CertInfo{
		Subject:      cert.RawSubject,
		Issuer:       cert.RawIssuer,
		SerialNumber: cert.SerialNumber.Bytes(),
		CommonName:   cert.Subject.CommonName,
		IsCA:         cert.IsCA,
		SHA1:         sha1sum[:],
	}, nil
}
