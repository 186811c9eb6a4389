// Package cryptoki is the exported function table a Cryptoki v2.40 caller
// loads: each method mirrors one C_* entry point, taking and returning the
// same shapes github.com/miekg/pkcs11 uses on the client side, backed by
// internal/engine for everything but version/flag reporting. A cgo shim
// exporting these as C symbols for dlopen-style loading is not part of this
// module; these methods are written to be a direct cgo target.
package cryptoki

import (
	"github.com/miekg/pkcs11"

	"hostcryptoki/internal/attrstore"
	"hostcryptoki/internal/buildinfo"
	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/engine"
	"hostcryptoki/internal/model"
	"hostcryptoki/internal/prefs"
	"hostcryptoki/internal/registry"
)

// Module is the loaded library: one Module per C_Initialize/C_Finalize
// lifetime, wrapping the engine and the preferences resolved at init time.
type Module struct {
	engine *engine.Engine
	prefs  *prefs.Preferences
}

// New returns an unloaded Module. Call C_Initialize before any other method.
func New() *Module {
	return &Module{engine: engine.New()}
}

// C_Initialize brings the module up. cfg.Prefs, left nil, resolves from the
// environment the way a real loaded library would.
func (m *Module) C_Initialize(cfg engine.Config) uint {
	p := cfg.Prefs
	if p == nil {
		p = prefs.Load()
		cfg.Prefs = p
	}
	m.prefs = p
	if err := m.engine.Initialize(cfg); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

// C_Finalize tears the module down.
func (m *Module) C_Finalize() uint {
	if err := m.engine.Finalize(); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

// C_GetInfo reports the library's version and identification fields.
func (m *Module) C_GetInfo() (pkcs11.Info, uint) {
	return pkcs11.Info{
		CryptokiVersion:    pkcs11.Version{Major: buildinfo.CryptokiMajor, Minor: buildinfo.CryptokiMinor},
		ManufacturerID:     padded(buildinfo.Manufacturer, 32),
		LibraryDescription: padded(buildinfo.LibraryDesc, 32),
		LibraryVersion:     pkcs11.Version{Major: buildinfo.LibraryMajor, Minor: buildinfo.LibraryMinor},
	}, pkcs11.CKR_OK
}

// supportedFunctions names every C_* entry point this module implements
// against the engine, as opposed to the Non-goal functions unconditionally
// answering function-not-supported. Used by C_GetFunctionList.
var supportedFunctions = []string{
	"C_Initialize", "C_Finalize", "C_GetInfo", "C_GetFunctionList",
	"C_GetSlotList", "C_GetSlotInfo", "C_GetTokenInfo",
	"C_GetMechanismList", "C_GetMechanismInfo",
	"C_OpenSession", "C_CloseSession", "C_CloseAllSessions",
	"C_Login", "C_Logout",
	"C_GetAttributeValue",
	"C_FindObjectsInit", "C_FindObjects", "C_FindObjectsFinal",
	"C_EncryptInit", "C_Encrypt",
	"C_DecryptInit", "C_Decrypt",
	"C_SignInit", "C_Sign", "C_SignUpdate", "C_SignFinal",
	"C_VerifyInit", "C_Verify", "C_VerifyUpdate", "C_VerifyFinal",
}

// nonGoalFunctions names every C_* entry point spec.md's Non-goals exclude:
// token init, PIN change, key generation/derivation/wrap/unwrap, RNG,
// digest-only operations, and operation-state save/restore. Every one
// unconditionally answers function-not-supported.
var nonGoalFunctions = []string{
	"C_InitToken", "C_InitPIN", "C_SetPIN",
	"C_GenerateKey", "C_GenerateKeyPair", "C_DeriveKey", "C_WrapKey", "C_UnwrapKey",
	"C_SeedRandom", "C_GenerateRandom",
	"C_DigestInit", "C_Digest", "C_DigestUpdate", "C_DigestFinal", "C_DigestKey",
	"C_GetOperationState", "C_SetOperationState",
}

// C_GetFunctionList reports which C_* entry points this module implements.
// Non-goal entry points are listed as unsupported rather than omitted, so a
// caller probing the table sees the full Cryptoki surface and the module's
// actual coverage of it.
func (m *Module) C_GetFunctionList() map[string]bool {
	out := make(map[string]bool, len(supportedFunctions)+len(nonGoalFunctions))
	for _, name := range supportedFunctions {
		out[name] = true
	}
	for _, name := range nonGoalFunctions {
		out[name] = false
	}
	return out
}

// NotSupported is the uniform answer for every Non-goal entry point: token
// init, PIN change, key generation/derivation/wrap/unwrap, RNG, digest-only
// operations, and operation-state save/restore.
func (m *Module) NotSupported() uint { return pkcs11.CKR_FUNCTION_NOT_SUPPORTED }

func (m *Module) C_GetSlotList(tokenPresent bool) ([]uint, uint) {
	indices, err := m.engine.GetSlotList(tokenPresent)
	if err != nil {
		return nil, err.RV
	}
	out := make([]uint, len(indices))
	for i, idx := range indices {
		out[i] = uint(idx)
	}
	return out, pkcs11.CKR_OK
}

func (m *Module) C_GetSlotInfo(slot uint) (pkcs11.SlotInfo, uint) {
	info, err := m.engine.GetSlotInfo(int(slot))
	if err != nil {
		return pkcs11.SlotInfo{}, err.RV
	}

	var flags uint
	if info.TokenPresent {
		flags |= pkcs11.CKF_TOKEN_PRESENT
	}
	if info.Removable {
		flags |= pkcs11.CKF_REMOVABLE_DEVICE
	}
	if info.Hardware {
		flags |= pkcs11.CKF_HW_SLOT
	}

	return pkcs11.SlotInfo{
		SlotDescription: padded("host-backed identity slot", 64),
		ManufacturerID:  padded(buildinfo.Manufacturer, 32),
		Flags:           flags,
	}, pkcs11.CKR_OK
}

// C_GetTokenInfo reports token flags. Every flag here reflects a Non-goal
// rather than real state: write-protected and token/PIN-initialized are
// always true, since no code path in this module ever mutates or
// initializes a token. protected-authentication-path is cleared exactly
// when askPIN requests PIN relay into the local-authentication subsystem;
// otherwise the platform's own prompt (outside this module's scope) is
// assumed to have run before C_Login is ever called.
func (m *Module) C_GetTokenInfo(slot uint) (pkcs11.TokenInfo, uint) {
	if int(slot) == registry.CertSlotIndex {
		if _, err := m.engine.GetTokenInfo(int(slot)); err != nil {
			return pkcs11.TokenInfo{}, err.RV
		}
		return pkcs11.TokenInfo{
			Label:          padded("Trusted Certificates", 32),
			ManufacturerID: padded(buildinfo.Manufacturer, 32),
			Model:          padded("certificate slot", 16),
			Flags:          pkcs11.CKF_TOKEN_INITIALIZED | pkcs11.CKF_USER_PIN_INITIALIZED | pkcs11.CKF_WRITE_PROTECTED,
			MaxSessionCount:    effectivelyInfinite,
			SessionCount:       unavailable,
			MaxRwSessionCount:  0,
			RwSessionCount:     0,
			MaxPinLen:          0,
			MinPinLen:          0,
			TotalPublicMemory:  unavailable,
			FreePublicMemory:   unavailable,
			TotalPrivateMemory: unavailable,
			FreePrivateMemory:  unavailable,
		}, pkcs11.CKR_OK
	}

	tok, err := m.engine.GetTokenInfo(int(slot))
	if err != nil {
		return pkcs11.TokenInfo{}, err.RV
	}

	flags := uint(pkcs11.CKF_TOKEN_INITIALIZED | pkcs11.CKF_USER_PIN_INITIALIZED |
		pkcs11.CKF_WRITE_PROTECTED | pkcs11.CKF_LOGIN_REQUIRED)
	if !m.relaysPIN() {
		flags |= pkcs11.CKF_PROTECTED_AUTHENTICATION_PATH
	}

	return pkcs11.TokenInfo{
		Label:              padded(tok.Label, 32),
		ManufacturerID:     padded(buildinfo.Manufacturer, 32),
		Model:              padded("host identity", 16),
		SerialNumber:       padded(tok.TokenID, 16),
		Flags:              flags,
		MaxSessionCount:    effectivelyInfinite,
		SessionCount:       unavailable,
		MaxRwSessionCount:  0,
		RwSessionCount:     0,
		MaxPinLen:          255,
		MinPinLen:          0,
		TotalPublicMemory:  unavailable,
		FreePublicMemory:   unavailable,
		TotalPrivateMemory: unavailable,
		FreePrivateMemory:  unavailable,
	}, pkcs11.CKR_OK
}

// relaysPIN reports whether the configured askPIN preference asks this
// module to relay a caller-supplied PIN into the local-authentication
// subsystem, clearing protected-authentication-path. The host's own prompt
// runs instead when askPIN is false.
func (m *Module) relaysPIN() bool {
	if m.prefs == nil {
		return true
	}
	return m.prefs.AskPIN()
}

// effectivelyInfinite and unavailable are the two CK_EFFECTIVELY_INFINITE /
// CK_UNAVAILABLE_INFORMATION sentinels Cryptoki v2.40 defines for session
// count and memory fields this module never tracks.
const (
	effectivelyInfinite = ^uint(0) - 1
	unavailable         = ^uint(0)
)

func (m *Module) C_GetMechanismList(slot uint) ([]uint, uint) {
	return m.engine.GetMechanismList(), pkcs11.CKR_OK
}

func (m *Module) C_GetMechanismInfo(slot uint, mech uint) (pkcs11.MechanismInfo, uint) {
	info, ok := m.engine.GetMechanismInfo(mech)
	if !ok {
		return pkcs11.MechanismInfo{}, ckerror.MechanismInvalid(mech).RV
	}
	return pkcs11.MechanismInfo{
		MinKeySize: uint(info.MinKeyBits),
		MaxKeySize: uint(info.MaxKeyBits),
		Flags:      info.Flags,
	}, pkcs11.CKR_OK
}

func (m *Module) C_OpenSession(slot uint, flags uint) (uint, uint) {
	sess, err := m.engine.OpenSession(int(slot), flags)
	if err != nil {
		return 0, err.RV
	}
	return sess.Handle, pkcs11.CKR_OK
}

func (m *Module) C_CloseSession(session uint) uint {
	if err := m.engine.CloseSession(session); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_CloseAllSessions(slot uint) uint {
	if err := m.engine.CloseAllSessions(int(slot)); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

// C_Login ignores userType: CKU_SO is meaningless without token
// initialization (a Non-goal), so every login is treated as CKU_USER.
func (m *Module) C_Login(session uint, userType uint, pin []byte) uint {
	if err := m.engine.Login(session, pin); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_Logout(session uint) uint {
	if err := m.engine.Logout(session); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_GetAttributeValue(session, object uint, template []*pkcs11.Attribute) ([]*pkcs11.Attribute, uint) {
	requests := make([]attrstore.Request, len(template))
	for i, a := range template {
		requests[i] = attrstore.Request{Type: a.Type, BufLen: len(a.Value), BufIsNull: a.Value == nil}
	}
	results, err := m.engine.GetAttributeValue(session, object, requests)
	if err != nil {
		return nil, err.RV
	}
	out := make([]*pkcs11.Attribute, len(results))
	for i, r := range results {
		if r.Value == nil {
			out[i] = &pkcs11.Attribute{Type: r.Type}
			continue
		}
		out[i] = &pkcs11.Attribute{Type: r.Type, Value: r.Value}
	}
	return out, pkcs11.CKR_OK
}

func (m *Module) C_FindObjectsInit(session uint, template []*pkcs11.Attribute) uint {
	attrs := make([]model.Attribute, len(template))
	for i, a := range template {
		attrs[i] = model.Attribute{Type: a.Type, Value: a.Value}
	}
	if err := m.engine.FindObjectsInit(session, attrs); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_FindObjects(session uint, max int) ([]uint, uint) {
	handles, err := m.engine.FindObjects(session, max)
	if err != nil {
		return nil, err.RV
	}
	return handles, pkcs11.CKR_OK
}

func (m *Module) C_FindObjectsFinal(session uint) uint {
	if err := m.engine.FindObjectsFinal(session); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_EncryptInit(session uint, mechanismType uint, params any, paramLen int, key uint) uint {
	if err := m.engine.EncryptInit(session, key, mechanismType, params, paramLen); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_Encrypt(session uint, plaintext []byte, outBufLen int, outBufIsNull bool) ([]byte, uint) {
	out, _, err := m.engine.Encrypt(session, plaintext, outBufLen, outBufIsNull)
	if err != nil {
		return nil, err.RV
	}
	return out, pkcs11.CKR_OK
}

func (m *Module) C_DecryptInit(session uint, mechanismType uint, params any, paramLen int, key uint) uint {
	if err := m.engine.DecryptInit(session, key, mechanismType, params, paramLen); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_Decrypt(session uint, ciphertext []byte, outBufLen int, outBufIsNull bool) ([]byte, uint) {
	out, _, err := m.engine.Decrypt(session, ciphertext, outBufLen, outBufIsNull)
	if err != nil {
		return nil, err.RV
	}
	return out, pkcs11.CKR_OK
}

func (m *Module) C_SignInit(session uint, mechanismType uint, params any, paramLen int, key uint) uint {
	if err := m.engine.SignInit(session, key, mechanismType, params, paramLen); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_Sign(session uint, data []byte, outBufLen int, outBufIsNull bool) ([]byte, uint) {
	out, _, err := m.engine.Sign(session, data, outBufLen, outBufIsNull)
	if err != nil {
		return nil, err.RV
	}
	return out, pkcs11.CKR_OK
}

func (m *Module) C_SignUpdate(session uint, data []byte) uint {
	if err := m.engine.SignUpdate(session, data); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_SignFinal(session uint, outBufLen int, outBufIsNull bool) ([]byte, uint) {
	out, _, err := m.engine.SignFinal(session, outBufLen, outBufIsNull)
	if err != nil {
		return nil, err.RV
	}
	return out, pkcs11.CKR_OK
}

func (m *Module) C_VerifyInit(session uint, mechanismType uint, params any, paramLen int, key uint) uint {
	if err := m.engine.VerifyInit(session, key, mechanismType, params, paramLen); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_Verify(session uint, data, signature []byte) uint {
	if err := m.engine.Verify(session, data, signature); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_VerifyUpdate(session uint, data []byte) uint {
	if err := m.engine.VerifyUpdate(session, data); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

func (m *Module) C_VerifyFinal(session uint, signature []byte) uint {
	if err := m.engine.VerifyFinal(session, signature); err != nil {
		return err.RV
	}
	return pkcs11.CKR_OK
}

// padded truncates or space-pads s to exactly n bytes, matching the
// fixed-width, space-padded, no-trailing-null string convention every
// struct above uses for label-shaped fields. The pkcs11 struct fields are
// typed string rather than [N]byte on this binding, but the byte content
// is still the padded fixed-width form.
func padded(s string, n int) string {
	return string(buildinfo.PaddedString(s, n))
}
