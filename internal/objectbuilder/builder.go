// Package objectbuilder implements the object builder: from identities (or
// the scanned certificate set) it constructs the
// per-token object list.
package objectbuilder

import (
	"encoding/binary"

	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/hostapi"
	"hostcryptoki/internal/model"
)

// trustedDelegatorValue mirrors NSS's CKT_NSS_TRUSTED_DELEGATOR, a
// vendor-defined CK_TRUST value placed relative to CKT_VENDOR_DEFINED the
// same way NSS's pkcs11n.h does; not part of the standard Cryptoki header.
const trustedDelegatorValue uint32 = uint32(pkcs11.CKA_VENDOR_DEFINED) + 2

// idBytes returns the minimum-length big-endian encoding of a 0-based
// identity index: one byte for indices < 256, two for < 65536, and so on;
// the low byte is always present, even for index 0.
func idBytes(index int) []byte {
	if index == 0 {
		return []byte{0}
	}
	var b []byte
	n := index
	for n > 0 {
		b = append([]byte{byte(n & 0xff)}, b...)
		n >>= 8
	}
	return b
}

func boolAttr(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func ulongAttr(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Deps bundles the host collaborators the builder needs per identity: key
// geometry (modulus/exponent, bit length) and certificate parsing.
type Deps struct {
	Crypto hostapi.HostCrypto
	Certs  hostapi.CertParser
	Store  hostapi.IdentityStore
}

// BuildForIdentities produces the per-token object list for a hardware
// token: certificate, public key, private key, in that order, per identity.
func BuildForIdentities(identities []model.Identity, deps Deps) ([]*model.Object, error) {
	objects := make([]*model.Object, 0, len(identities)*3)

	for idx, ident := range identities {
		id := idBytes(idx)

		info, err := deps.Certs.Parse(ident.CertificateDER)
		if err != nil {
			continue
		}

		certObj := &model.Object{
			Class:      model.ClassCertificate,
			IdentityID: idx,
			Attributes: []model.Attribute{
				{Type: pkcs11.CKA_CLASS, Value: ulongAttr(uint64(model.ClassCertificate))},
				{Type: pkcs11.CKA_ID, Value: id},
				{Type: pkcs11.CKA_CERTIFICATE_TYPE, Value: ulongAttr(pkcs11.CKC_X_509)},
				{Type: pkcs11.CKA_TOKEN, Value: boolAttr(true)},
				{Type: pkcs11.CKA_LABEL, Value: []byte(ident.Label)},
				{Type: pkcs11.CKA_VALUE, Value: ident.CertificateDER},
				{Type: pkcs11.CKA_SUBJECT, Value: info.Subject},
				{Type: pkcs11.CKA_ISSUER, Value: info.Issuer},
				{Type: pkcs11.CKA_SERIAL_NUMBER, Value: info.SerialNumber},
			},
		}
		objects = append(objects, certObj)

		modulus, exponent, err := deps.Crypto.ModulusAndExponent(ident.PublicKeyHandle)
		if err != nil {
			objects = objects[:len(objects)-1]
			continue
		}
		bits, err := deps.Crypto.ModulusBitLen(ident.PublicKeyHandle)
		if err != nil {
			bits = len(modulus) * 8
		}

		pubObj := &model.Object{
			Class:      model.ClassPublicKey,
			IdentityID: idx,
			KeyHandle:  ident.PublicKeyHandle,
			Attributes: []model.Attribute{
				{Type: pkcs11.CKA_CLASS, Value: ulongAttr(uint64(model.ClassPublicKey))},
				{Type: pkcs11.CKA_ID, Value: id},
				{Type: pkcs11.CKA_KEY_TYPE, Value: ulongAttr(uint64(ident.KeyType))},
				{Type: pkcs11.CKA_TOKEN, Value: boolAttr(true)},
				{Type: pkcs11.CKA_LOCAL, Value: boolAttr(true)},
				{Type: pkcs11.CKA_ENCRYPT, Value: boolAttr(ident.PubCanEncrypt)},
				{Type: pkcs11.CKA_VERIFY, Value: boolAttr(ident.PubCanVerify)},
				{Type: pkcs11.CKA_SUBJECT, Value: info.Subject},
				{Type: pkcs11.CKA_LABEL, Value: []byte(ident.Label)},
				{Type: pkcs11.CKA_MODULUS_BITS, Value: ulongAttr(uint64(bits))},
				{Type: pkcs11.CKA_MODULUS, Value: modulus},
				{Type: pkcs11.CKA_PUBLIC_EXPONENT, Value: exponent},
				{Type: pkcs11.CKA_WRAP, Value: boolAttr(false)},
				{Type: pkcs11.CKA_DERIVE, Value: boolAttr(false)},
			},
		}
		objects = append(objects, pubObj)

		privLabel, err := deps.Store.KeyLabel(ident.PrivateKeyHandle)
		if err != nil || privLabel == "" {
			privLabel = ident.Label
		}

		privObj := &model.Object{
			Class:      model.ClassPrivateKey,
			IdentityID: idx,
			KeyHandle:  ident.PrivateKeyHandle,
			Attributes: []model.Attribute{
				{Type: pkcs11.CKA_CLASS, Value: ulongAttr(uint64(model.ClassPrivateKey))},
				{Type: pkcs11.CKA_ID, Value: id},
				{Type: pkcs11.CKA_KEY_TYPE, Value: ulongAttr(uint64(ident.KeyType))},
				{Type: pkcs11.CKA_TOKEN, Value: boolAttr(true)},
				{Type: pkcs11.CKA_PRIVATE, Value: boolAttr(true)},
				{Type: pkcs11.CKA_DECRYPT, Value: boolAttr(ident.PrivCanDecrypt)},
				{Type: pkcs11.CKA_SIGN, Value: boolAttr(ident.PrivCanSign)},
				{Type: pkcs11.CKA_SUBJECT, Value: info.Subject},
				{Type: pkcs11.CKA_LABEL, Value: []byte(privLabel)},
				{Type: pkcs11.CKA_MODULUS, Value: modulus},
				{Type: pkcs11.CKA_PUBLIC_EXPONENT, Value: exponent},
				{Type: pkcs11.CKA_SENSITIVE, Value: boolAttr(true)},
				{Type: pkcs11.CKA_ALWAYS_SENSITIVE, Value: boolAttr(true)},
				{Type: pkcs11.CKA_NEVER_EXTRACTABLE, Value: boolAttr(true)},
				{Type: pkcs11.CKA_LOCAL, Value: boolAttr(true)},
				{Type: pkcs11.CKA_ALWAYS_AUTHENTICATE, Value: boolAttr(false)},
				{Type: pkcs11.CKA_UNWRAP, Value: boolAttr(false)},
				{Type: pkcs11.CKA_DERIVE, Value: boolAttr(false)},
				{Type: pkcs11.CKA_EXTRACTABLE, Value: boolAttr(false)},
			},
		}
		objects = append(objects, privObj)
	}

	for i, obj := range objects {
		obj.ID = uint(i + 1)
	}
	return objects, nil
}

// BuildForCertificates produces the certificate-slot object list: per
// certificate, a certificate object plus an NSS trust object, as described
// for the certificate slot.
func BuildForCertificates(records []model.CertRecord, parser hostapi.CertParser) []*model.Object {
	objects := make([]*model.Object, 0, len(records)*2)

	for _, rec := range records {
		info, err := parser.Parse(rec.Certificate)
		if err != nil {
			continue
		}

		certObj := &model.Object{
			Class:      model.ClassCertificate,
			IdentityID: -1,
			Attributes: []model.Attribute{
				{Type: pkcs11.CKA_CLASS, Value: ulongAttr(uint64(model.ClassCertificate))},
				{Type: pkcs11.CKA_CERTIFICATE_TYPE, Value: ulongAttr(pkcs11.CKC_X_509)},
				{Type: pkcs11.CKA_TOKEN, Value: boolAttr(true)},
				{Type: pkcs11.CKA_LABEL, Value: []byte(info.CommonName)},
				{Type: pkcs11.CKA_VALUE, Value: rec.Certificate},
				{Type: pkcs11.CKA_SUBJECT, Value: info.Subject},
				{Type: pkcs11.CKA_ISSUER, Value: info.Issuer},
				{Type: pkcs11.CKA_SERIAL_NUMBER, Value: info.SerialNumber},
			},
		}
		objects = append(objects, certObj)

		trustAttrs := []model.Attribute{
			{Type: pkcs11.CKA_CLASS, Value: ulongAttr(uint64(model.ClassTrust))},
			{Type: pkcs11.CKA_TOKEN, Value: boolAttr(true)},
			{Type: pkcs11.CKA_ISSUER, Value: info.Issuer},
			{Type: pkcs11.CKA_SERIAL_NUMBER, Value: info.SerialNumber},
			{Type: model.AttrCertSHA1Hash, Value: info.SHA1},
		}
		if info.IsCA {
			trustAttrs = append(trustAttrs,
				model.Attribute{Type: model.AttrTrustServerAuth, Value: ulongAttr(uint64(trustedDelegatorValue))},
				model.Attribute{Type: model.AttrTrustClientAuth, Value: ulongAttr(uint64(trustedDelegatorValue))},
				model.Attribute{Type: model.AttrTrustEmailProtection, Value: ulongAttr(uint64(trustedDelegatorValue))},
				model.Attribute{Type: model.AttrTrustCodeSigning, Value: ulongAttr(uint64(trustedDelegatorValue))},
			)
		}
		trustObj := &model.Object{Class: model.ClassTrust, IdentityID: -1, Attributes: trustAttrs}
		objects = append(objects, trustObj)
	}

	for i, obj := range objects {
		obj.ID = uint(i + 1)
	}
	return objects
}
