// Package opstate implements the Operation State Machine (component 7,
// per-session *-init/single-shot/update/final transitions
// and the dispatch into the host's crypto primitives.
package opstate

import (
	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/cryptoutil"
	"hostcryptoki/internal/hostapi"
	"hostcryptoki/internal/mechanism"
	"hostcryptoki/internal/model"
)

func keyBits(obj *model.Object) int {
	if modulus, ok := obj.Attr(pkcs11.CKA_MODULUS); ok {
		return len(modulus) * 8
	}
	return 0
}

func flagSet(obj *model.Object, attr uint) bool {
	v, ok := obj.Attr(attr)
	return ok && len(v) == 1 && v[0] == 1
}

func hashAlgOf(sess *model.Session) (cryptoutil.HashAlgorithm, *ckerror.Error) {
	alg, err := cryptoutil.HashAlgorithmFromMechanism(sess.Algorithms.HashMechanism)
	if err != nil {
		return 0, ckerror.GeneralError(err)
	}
	return alg, nil
}

// InitEncrypt validates key, mechanism and parameters for encrypt-init.
func InitEncrypt(sess *model.Session, key *model.Object, mech uint, params any, paramLen int) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpNone {
		return ckerror.OperationActive()
	}
	if key.Class != model.ClassPublicKey {
		return ckerror.KeyTypeInconsistent("encrypt requires a public key object")
	}
	if !flagSet(key, pkcs11.CKA_ENCRYPT) {
		return ckerror.KeyFunctionForbidden("key is not permitted to encrypt")
	}
	alg, err := mechanism.InitOperation(mechanism.OpEncrypt, mech, params, paramLen, keyBits(key))
	if err != nil {
		return err
	}
	sess.State = model.OpEncryptInit
	sess.KeyObject = key
	sess.Algorithms = alg
	return nil
}

// InitDecrypt validates key, mechanism and parameters for decrypt-init.
func InitDecrypt(sess *model.Session, key *model.Object, mech uint, params any, paramLen int) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpNone {
		return ckerror.OperationActive()
	}
	if key.Class != model.ClassPrivateKey {
		return ckerror.KeyTypeInconsistent("decrypt requires a private key object")
	}
	if !flagSet(key, pkcs11.CKA_DECRYPT) {
		return ckerror.KeyFunctionForbidden("key is not permitted to decrypt")
	}
	alg, err := mechanism.InitOperation(mechanism.OpDecrypt, mech, params, paramLen, keyBits(key))
	if err != nil {
		return err
	}
	sess.State = model.OpDecryptInit
	sess.KeyObject = key
	sess.Algorithms = alg
	return nil
}

// InitSign validates key, mechanism and parameters for sign-init.
func InitSign(sess *model.Session, key *model.Object, mech uint, params any, paramLen int) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpNone {
		return ckerror.OperationActive()
	}
	if key.Class != model.ClassPrivateKey {
		return ckerror.KeyTypeInconsistent("sign requires a private key object")
	}
	if !flagSet(key, pkcs11.CKA_SIGN) {
		return ckerror.KeyFunctionForbidden("key is not permitted to sign")
	}
	alg, err := mechanism.InitOperation(mechanism.OpSign, mech, params, paramLen, keyBits(key))
	if err != nil {
		return err
	}
	sess.State = model.OpSignInit
	sess.KeyObject = key
	sess.Algorithms = alg
	return nil
}

// InitVerify validates key, mechanism and parameters for verify-init.
func InitVerify(sess *model.Session, key *model.Object, mech uint, params any, paramLen int) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpNone {
		return ckerror.OperationActive()
	}
	if key.Class != model.ClassPublicKey {
		return ckerror.KeyTypeInconsistent("verify requires a public key object")
	}
	if !flagSet(key, pkcs11.CKA_VERIFY) {
		return ckerror.KeyFunctionForbidden("key is not permitted to verify")
	}
	alg, err := mechanism.InitOperation(mechanism.OpVerify, mech, params, paramLen, keyBits(key))
	if err != nil {
		return err
	}
	sess.State = model.OpVerifyInit
	sess.KeyObject = key
	sess.Algorithms = alg
	return nil
}

// probeOutput implements the output-size probing rule common to encrypt,
// decrypt and single-shot sign: a null buffer returns the known size on
// success (state untouched) or buffer-too-small if unknown; a too-small
// buffer returns buffer-too-small with the required size, state untouched.
// done=true means the caller must return immediately with the given error
// (which may be nil, for the "write known size" success case).
func probeOutput(expected, bufLen int, bufIsNull bool) (required int, done bool, err *ckerror.Error) {
	if bufIsNull {
		if expected > 0 {
			return expected, true, nil
		}
		return 0, true, ckerror.BufferTooSmall(0)
	}
	if expected > 0 && bufLen < expected {
		return expected, true, ckerror.BufferTooSmall(expected)
	}
	return 0, false, nil
}

// Encrypt performs single-shot encrypt-init's transfer.
func Encrypt(sess *model.Session, host hostapi.HostCrypto, plaintext []byte, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpEncryptInit {
		return nil, 0, ckerror.OperationNotInitialized()
	}
	if required, done, err := probeOutput(sess.Algorithms.ExpectedOutLen, bufLen, bufIsNull); done {
		return nil, required, err
	}

	key := sess.KeyObject
	var out []byte
	var cryptErr error
	switch sess.Algorithms.Mechanism {
	case pkcs11.CKM_RSA_PKCS_OAEP:
		hashAlg, herr := hashAlgOf(sess)
		if herr != nil {
			sess.ResetOperation()
			return nil, 0, herr
		}
		out, cryptErr = host.EncryptOAEP(key.KeyHandle, hashAlg, hashAlg, plaintext)
	default:
		out, cryptErr = host.EncryptPKCS1v15(key.KeyHandle, plaintext)
	}
	if cryptErr != nil {
		sess.ResetOperation()
		return nil, 0, ckerror.FunctionFailed("encrypt", cryptErr)
	}

	sess.ResetOperation()
	return out, len(out), nil
}

// Decrypt performs single-shot decrypt-init's transfer.
func Decrypt(sess *model.Session, host hostapi.HostCrypto, ciphertext []byte, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpDecryptInit {
		return nil, 0, ckerror.OperationNotInitialized()
	}
	// Decrypt's expected output size is unknown until the primitive runs
	// (PKCS#1v1.5/OAEP unpad to a variable-length message), so a null
	// buffer always reports buffer-too-small.
	if bufIsNull {
		return nil, 0, ckerror.BufferTooSmall(0)
	}

	key := sess.KeyObject
	var out []byte
	var cryptErr error
	switch sess.Algorithms.Mechanism {
	case pkcs11.CKM_RSA_PKCS_OAEP:
		hashAlg, herr := hashAlgOf(sess)
		if herr != nil {
			sess.ResetOperation()
			return nil, 0, herr
		}
		out, cryptErr = host.DecryptOAEP(key.KeyHandle, hashAlg, hashAlg, ciphertext)
	default:
		out, cryptErr = host.DecryptPKCS1v15(key.KeyHandle, ciphertext)
	}
	if cryptErr != nil {
		sess.ResetOperation()
		return nil, 0, ckerror.FunctionFailed("decrypt", cryptErr)
	}
	if bufLen < len(out) {
		return nil, len(out), ckerror.BufferTooSmall(len(out))
	}

	sess.ResetOperation()
	return out, len(out), nil
}

// Sign performs single-shot sign-init's transfer (CKM_RSA_PKCS / PSS /
// the SHA*_RSA_PKCS digest-internal family, all of which this engine
// treats as single-shot when called directly rather than via *-update).
func Sign(sess *model.Session, host hostapi.HostCrypto, data []byte, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpSignInit {
		return nil, 0, ckerror.OperationNotInitialized()
	}
	if required, done, err := probeOutput(sess.Algorithms.ExpectedOutLen, bufLen, bufIsNull); done {
		return nil, required, err
	}

	sig, err := signWith(sess, host, data)
	if err != nil {
		sess.ResetOperation()
		return nil, 0, ckerror.FunctionFailed("sign", err)
	}

	sess.ResetOperation()
	return sig, len(sig), nil
}

func signWith(sess *model.Session, host hostapi.HostCrypto, data []byte) ([]byte, error) {
	key := sess.KeyObject
	switch sess.Algorithms.Mechanism {
	case pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA256_RSA_PKCS_PSS:
		hashAlg, herr := hashAlgOf(sess)
		if herr != nil {
			return nil, herr
		}
		digest := data
		if sess.Algorithms.Mechanism == pkcs11.CKM_SHA256_RSA_PKCS_PSS {
			digest = cryptoutil.Digest(hashAlg, data)
		}
		return host.SignPSS(key.KeyHandle, hashAlg, digest, hashAlg.CryptoHash().Size())
	case pkcs11.CKM_SHA1_RSA_PKCS, pkcs11.CKM_SHA256_RSA_PKCS, pkcs11.CKM_SHA384_RSA_PKCS, pkcs11.CKM_SHA512_RSA_PKCS:
		hashAlg, herr := hashAlgOf(sess)
		if herr != nil {
			return nil, herr
		}
		digest := cryptoutil.Digest(hashAlg, data)
		return host.SignPKCS1v15(key.KeyHandle, hashAlg, digest)
	default: // CKM_RSA_PKCS: caller supplies the already-formed digest-info
		return host.SignPKCS1v15(key.KeyHandle, cryptoutil.HashNone, data)
	}
}

// Verify performs single-shot verify-init's transfer.
func Verify(sess *model.Session, host hostapi.HostCrypto, data, signature []byte) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpVerifyInit {
		return ckerror.OperationNotInitialized()
	}

	err := verifyWith(sess, host, data, signature)
	sess.ResetOperation()
	if err != nil {
		return ckerror.SignatureInvalid()
	}
	return nil
}

func verifyWith(sess *model.Session, host hostapi.HostCrypto, data, signature []byte) error {
	key := sess.KeyObject
	switch sess.Algorithms.Mechanism {
	case pkcs11.CKM_RSA_PKCS_PSS, pkcs11.CKM_SHA256_RSA_PKCS_PSS:
		hashAlg, herr := hashAlgOf(sess)
		if herr != nil {
			return herr
		}
		digest := data
		if sess.Algorithms.Mechanism == pkcs11.CKM_SHA256_RSA_PKCS_PSS {
			digest = cryptoutil.Digest(hashAlg, data)
		}
		return host.VerifyPSS(key.KeyHandle, hashAlg, digest, signature, hashAlg.CryptoHash().Size())
	case pkcs11.CKM_SHA1_RSA_PKCS, pkcs11.CKM_SHA256_RSA_PKCS, pkcs11.CKM_SHA384_RSA_PKCS, pkcs11.CKM_SHA512_RSA_PKCS:
		hashAlg, herr := hashAlgOf(sess)
		if herr != nil {
			return herr
		}
		digest := cryptoutil.Digest(hashAlg, data)
		return host.VerifyPKCS1v15(key.KeyHandle, hashAlg, digest, signature)
	default:
		return host.VerifyPKCS1v15(key.KeyHandle, cryptoutil.HashNone, data, signature)
	}
}

// SignUpdate feeds data into the running digest, initializing it on the
// first call. Requires the mechanism to have a digest-taking variant.
func SignUpdate(sess *model.Session, data []byte) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	switch sess.State {
	case model.OpSignInit:
		if !mechanism.SupportsDigestVariant(sess.Algorithms.Mechanism) {
			return ckerror.DataLenRange("mechanism has no multi-part digest-taking variant")
		}
		sess.State = model.OpSignUpdate
		sess.AppendDigestInput(data)
		return nil
	case model.OpSignUpdate:
		sess.AppendDigestInput(data)
		return nil
	default:
		return ckerror.OperationNotInitialized()
	}
}

// SignFinal finalizes the accumulated digest and signs it.
func SignFinal(sess *model.Session, host hostapi.HostCrypto, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpSignUpdate {
		return nil, 0, ckerror.OperationNotInitialized()
	}
	if required, done, err := probeOutput(sess.Algorithms.ExpectedOutLen, bufLen, bufIsNull); done {
		return nil, required, err
	}

	sig, err := signWith(sess, host, sess.DigestInput())
	if err != nil {
		sess.ResetOperation()
		return nil, 0, ckerror.FunctionFailed("sign-final", err)
	}

	sess.ResetOperation()
	return sig, len(sig), nil
}

// VerifyUpdate mirrors SignUpdate.
func VerifyUpdate(sess *model.Session, data []byte) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	switch sess.State {
	case model.OpVerifyInit:
		if !mechanism.SupportsDigestVariant(sess.Algorithms.Mechanism) {
			return ckerror.DataLenRange("mechanism has no multi-part digest-taking variant")
		}
		sess.State = model.OpVerifyUpdate
		sess.AppendDigestInput(data)
		return nil
	case model.OpVerifyUpdate:
		sess.AppendDigestInput(data)
		return nil
	default:
		return ckerror.OperationNotInitialized()
	}
}

// VerifyFinal finalizes the accumulated digest and verifies signature
// against it.
func VerifyFinal(sess *model.Session, host hostapi.HostCrypto, signature []byte) *ckerror.Error {
	sess.Lock()
	defer sess.Unlock()

	if sess.State != model.OpVerifyUpdate {
		return ckerror.OperationNotInitialized()
	}

	err := verifyWith(sess, host, sess.DigestInput(), signature)
	sess.ResetOperation()
	if err != nil {
		return ckerror.SignatureInvalid()
	}
	return nil
}
