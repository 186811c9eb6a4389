// Package engine composes the registries, the identity loader, the object
// builder, the certificate-slot scanner and the per-session operation state
// machine into the single runtime object a Cryptoki function table wraps:
// initialize, operate, finalize.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/attrstore"
	"hostcryptoki/internal/certslot"
	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/diag"
	"hostcryptoki/internal/hostapi"
	"hostcryptoki/internal/identity"
	"hostcryptoki/internal/logging"
	"hostcryptoki/internal/mechanism"
	"hostcryptoki/internal/metrics"
	"hostcryptoki/internal/model"
	"hostcryptoki/internal/objectbuilder"
	"hostcryptoki/internal/opstate"
	"hostcryptoki/internal/pinlimit"
	"hostcryptoki/internal/prefs"
	"hostcryptoki/internal/registry"
	"hostcryptoki/internal/search"
)

// MutexKind selects the locking discipline a caller asserts at Initialize
// time, mirroring the CK_C_INITIALIZE_ARGS mutex-callback quadruple.
type MutexKind int

const (
	// MutexNative means the engine's own locking (registries, token,
	// session) is used unconditionally. This is the only discipline the
	// engine actually varies its behavior for: Go's race-free guarantees
	// come from its own sync primitives, so a caller-supplied or no-op
	// discipline is honored by validating the callback contract up
	// front, not by swapping out internal locks for it.
	MutexNative MutexKind = iota
	// MutexCallerSupplied records that every one of the four callbacks
	// below was supplied.
	MutexCallerSupplied
	// MutexNone asserts single-threaded use; the engine keeps its
	// internal locking regardless, since relaxing it would make the
	// registries unsafe if the assertion is wrong.
	MutexNone
)

// MutexCallbacks mirrors CreateMutex/DestroyMutex/LockMutex/UnlockMutex.
// All four must be set together for MutexCallerSupplied.
type MutexCallbacks struct {
	Create  func() (any, error)
	Destroy func(any) error
	Lock    func(any) error
	Unlock  func(any) error
}

// Config bundles everything Initialize needs: the host collaborators and
// the preference/logging overrides a caller may want to force.
type Config struct {
	Store   hostapi.IdentityStore
	Auth    hostapi.LocalAuth
	Crypto  hostapi.HostCrypto
	Certs   hostapi.CertParser
	Watcher hostapi.Watcher // optional; no hot-plug support without one

	Prefs *prefs.Preferences // nil selects prefs.Load()
	Log   *logging.Logger    // nil selects logging.NewFromEnv("engine")

	MutexKind      MutexKind
	MutexCallbacks *MutexCallbacks
}

// Engine is the opaque runtime object: one per loaded library, guarding its
// own initialize/finalize lifecycle.
type Engine struct {
	mu          sync.Mutex
	initialized bool

	slots    *registry.SlotRegistry
	sessions *registry.SessionRegistry
	pinLimit *pinlimit.Limiter

	certScan       *certslot.Scanner
	certScanDone   chan struct{}
	certSubstrings []string

	store   hostapi.IdentityStore
	auth    hostapi.LocalAuth
	crypto  hostapi.HostCrypto
	certs   hostapi.CertParser
	watcher hostapi.Watcher

	watcherCancel context.CancelFunc
	watcherDone   chan struct{}

	diag *diag.Reporter
	log  *logging.Logger
}

// New returns an uninitialized Engine.
func New() *Engine {
	return &Engine{}
}

// Initialize brings the engine up: resolves preferences, wires collaborators,
// and starts the token watcher if one was supplied. Calling it twice without
// an intervening Finalize fails per the Cryptoki double-initialize rule.
func (e *Engine) Initialize(cfg Config) *ckerror.Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ckerror.AlreadyInitialized()
	}
	if cfg.Store == nil || cfg.Auth == nil || cfg.Crypto == nil || cfg.Certs == nil {
		return ckerror.ArgumentsBad("engine requires store, auth, crypto and certificate-parser collaborators")
	}
	if cfg.MutexKind == MutexCallerSupplied {
		cb := cfg.MutexCallbacks
		if cb == nil || cb.Create == nil || cb.Destroy == nil || cb.Lock == nil || cb.Unlock == nil {
			return ckerror.ArgumentsBad("caller-supplied locking requires all four mutex callbacks")
		}
	}

	p := cfg.Prefs
	if p == nil {
		p = prefs.Load()
	}
	log := cfg.Log
	if log == nil {
		log = logging.NewFromEnv("engine")
	}

	certEnabled, substrings := resolveCertSlot(p)

	e.slots = registry.NewSlotRegistry(certEnabled)
	e.sessions = registry.NewSessionRegistry()
	e.pinLimit = pinlimit.New(pinlimit.DefaultConfig())
	e.store, e.auth, e.crypto, e.certs, e.watcher = cfg.Store, cfg.Auth, cfg.Crypto, cfg.Certs, cfg.Watcher
	e.log = log

	if certEnabled {
		e.certScan = &certslot.Scanner{}
		e.certScanDone = make(chan struct{})
		e.certSubstrings = substrings
	}

	e.startWatcher()
	e.startDiag()
	e.initialized = true
	return nil
}

// startDiag wires up the periodic self-report. A reporter that fails to
// build (gopsutil unable to resolve this process) is logged and skipped;
// it never blocks Initialize.
func (e *Engine) startDiag() {
	reporter, err := diag.NewReporter(e.log, func() diag.Stats {
		return diag.Stats{
			OpenSessions:  e.sessions.Count(),
			TokensPresent: e.slots.Count(),
		}
	})
	if err != nil {
		e.log.Warn(context.Background(), "diagnostics reporter failed to start", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := reporter.Start(""); err != nil {
		e.log.Warn(context.Background(), "diagnostics schedule failed to start", map[string]interface{}{"error": err.Error()})
		return
	}
	e.diag = reporter
}

// resolveCertSlot turns the keychainCertSlot/certificateList preferences
// into an enable flag and a common-name substring filter. A nonzero
// keychainCertSlot enables the slot; certificateList of exactly ["none"]
// forces it off regardless. An empty/absent certificateList means "every
// trusted certificate qualifies", expressed as the substring "" (which
// strings.Contains matches against any common name).
func resolveCertSlot(p *prefs.Preferences) (enabled bool, substrings []string) {
	list := p.CertificateList()
	if len(list) == 1 && list[0] == "none" {
		return false, nil
	}
	enabled = p.KeychainCertSlot() != 0
	if !enabled {
		return false, nil
	}
	if len(list) == 0 {
		return true, []string{""}
	}
	return true, list
}

// Finalize stops the watcher, closes every open session, and marks the
// engine uninitialized. Calling Finalize before Initialize fails.
func (e *Engine) Finalize() *ckerror.Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ckerror.NotInitialized()
	}

	if e.watcher != nil {
		e.watcher.Stop()
		if e.watcherCancel != nil {
			e.watcherCancel()
		}
		if e.watcherDone != nil {
			<-e.watcherDone
		}
	}

	if e.diag != nil {
		e.diag.Stop()
		e.diag = nil
	}

	for _, idx := range e.slots.Enumerate(false) {
		e.closeAllSessions(idx)
	}

	e.initialized = false
	return nil
}

func (e *Engine) requireInitialized() *ckerror.Error {
	if !e.initialized {
		return ckerror.NotInitialized()
	}
	return nil
}

// startWatcher launches the goroutine draining the token-event channel, if a
// Watcher was configured. A watcher that fails to start is logged and
// skipped: the engine still operates against whatever tokens were already
// present, it just never observes hot-plug events.
func (e *Engine) startWatcher() {
	if e.watcher == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.watcherCancel = cancel

	events, err := e.watcher.Start(ctx)
	if err != nil {
		e.log.Warn(ctx, "token watcher failed to start", map[string]interface{}{"error": err.Error()})
		cancel()
		e.watcherCancel = nil
		return
	}

	e.watcherDone = make(chan struct{})
	go func() {
		defer close(e.watcherDone)
		for ev := range events {
			switch ev.Kind {
			case hostapi.TokenAdded:
				e.handleInsert(ev.TokenID)
			case hostapi.TokenRemoved:
				e.handleRemove(ev.TokenID)
			}
		}
	}()
}

func (e *Engine) handleInsert(tokenID string) {
	ctx := logging.WithTraceID(context.Background(), logging.NewTraceID())

	identities := identity.Load(e.store, nil, tokenID, e.log)
	if len(identities) == 0 {
		e.log.Warn(ctx, "no identities found for inserted token, skipping slot publish", map[string]interface{}{
			"token_id": tokenID,
		})
		return
	}

	objects, err := objectbuilder.BuildForIdentities(identities, objectbuilder.Deps{
		Crypto: e.crypto, Certs: e.certs, Store: e.store,
	})
	if err != nil {
		e.log.Warn(ctx, "object build failed for inserted token", map[string]interface{}{
			"token_id": tokenID, "error": err.Error(),
		})
		return
	}

	tok := model.NewToken(tokenID, tokenID, identities, objects)
	idx := e.slots.AddToken(tok)
	metrics.SetTokensPresent(e.slots.Count())
	e.log.LogSlotEvent(ctx, "token inserted", idx, nil)
}

// handleRemove empties the token's slot and releases the registry's own
// reference. A token with open sessions is not freed here: its refcount
// stays above zero and those sessions keep operating against the object
// list they were opened with, until each is individually closed.
func (e *Engine) handleRemove(tokenID string) {
	ctx := logging.WithTraceID(context.Background(), logging.NewTraceID())

	_, idx, ok := e.slots.RemoveToken(tokenID)
	if !ok {
		return
	}
	e.pinLimit.ResetAll()
	metrics.SetTokensPresent(e.slots.Count())
	e.log.LogSlotEvent(ctx, "token removed", idx, nil)
}

// certObjects returns the certificate slot's object list, running the scan
// exactly once across however many callers race to open the slot first.
func (e *Engine) certObjects() []*model.Object {
	if e.certScan.TryStart() {
		start := time.Now()
		objs, err := certslot.Run(e.store, e.certs, e.certSubstrings, e.hardwareResidentHashes())
		metrics.RecordCertScan(time.Since(start))
		if err != nil {
			e.log.Warn(context.Background(), "certificate slot scan failed", map[string]interface{}{"error": err.Error()})
			objs = nil
		}
		e.certScan.Publish(objs)
		close(e.certScanDone)
		return objs
	}
	<-e.certScanDone
	return e.certScan.Objects()
}

// hardwareResidentHashes collects the SHA-1 hashes of every certificate
// already present on a hardware token, so the certificate-slot scan can
// exclude certificates that are already reachable through a real token.
func (e *Engine) hardwareResidentHashes() [][]byte {
	var out [][]byte
	for _, idx := range e.slots.Enumerate(true) {
		if idx == registry.CertSlotIndex {
			continue
		}
		tok, err := e.slots.TokenInfo(idx)
		if err != nil || tok == nil {
			continue
		}
		for _, ident := range tok.Identities {
			if info, err := e.certs.Parse(ident.CertificateDER); err == nil {
				out = append(out, info.SHA1)
			}
		}
	}
	return out
}

// GetSlotList reports occupied slot indices, or every slot if presentOnly
// is false, with the certificate slot appended last when enabled.
func (e *Engine) GetSlotList(presentOnly bool) ([]int, *ckerror.Error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.slots.Enumerate(presentOnly), nil
}

func (e *Engine) GetSlotInfo(idx int) (registry.SlotInfo, *ckerror.Error) {
	if err := e.requireInitialized(); err != nil {
		return registry.SlotInfo{}, err
	}
	return e.slots.SlotInfo(idx)
}

func (e *Engine) GetTokenInfo(idx int) (*model.Token, *ckerror.Error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.slots.TokenInfo(idx)
}

func (e *Engine) GetMechanismList() []uint { return mechanism.List() }

func (e *Engine) GetMechanismInfo(mech uint) (mechanism.Info, bool) { return mechanism.Lookup(mech) }

// OpenSession validates the slot and session flags and opens a session bound
// to a snapshot of the slot's object list taken at this moment. R/W sessions
// are a non-goal and always rejected.
func (e *Engine) OpenSession(slotIdx int, flags uint) (*model.Session, *ckerror.Error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if flags&pkcs11.CKF_RW_SESSION != 0 {
		return nil, ckerror.FunctionNotSupported()
	}
	serial := flags&pkcs11.CKF_SERIAL_SESSION != 0

	if slotIdx == registry.CertSlotIndex {
		if _, err := e.slots.SlotInfo(slotIdx); err != nil {
			return nil, err
		}
		sess, err := e.sessions.Open(slotIdx, serial, e.certObjects(), nil)
		if err == nil {
			metrics.SetSessionsOpen(e.sessions.Count())
		}
		return sess, err
	}

	tok, err := e.slots.TokenInfo(slotIdx)
	if err != nil {
		return nil, err
	}
	sess, openErr := e.sessions.Open(slotIdx, serial, tok.Objects, tok)
	if openErr == nil {
		metrics.SetSessionsOpen(e.sessions.Count())
	}
	return sess, openErr
}

func (e *Engine) CloseSession(handle uint) *ckerror.Error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	sess, err := e.sessions.SessionInfo(handle)
	if err != nil {
		return err
	}
	tok := sess.Token
	if err := e.sessions.Close(handle); err != nil {
		return err
	}
	metrics.SetSessionsOpen(e.sessions.Count())
	e.implicitLogoutIfIdle(tok)
	return nil
}

func (e *Engine) CloseAllSessions(slotIdx int) *ckerror.Error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	e.closeAllSessions(slotIdx)
	return nil
}

func (e *Engine) closeAllSessions(slotIdx int) {
	tok, _ := e.slots.TokenInfo(slotIdx)
	e.sessions.CloseAll(slotIdx)
	metrics.SetSessionsOpen(e.sessions.Count())
	e.implicitLogoutIfIdle(tok)
}

// implicitLogoutIfIdle releases a token's authentication context once its
// refcount drops back to 1 (only the slot registry's own reference left, no
// open sessions). Called after every session close.
func (e *Engine) implicitLogoutIfIdle(tok *model.Token) {
	if tok == nil || tok.RefCountValue() != 1 {
		return
	}
	tok.Lock()
	defer tok.Unlock()
	if tok.LoggedIn {
		e.auth.Release(tok.AuthContext)
		tok.AuthContext = nil
		tok.LoggedIn = false
	}
}

// Login authenticates every identity on the session's token. A null pin
// delegates PIN collection to the platform: the token is marked logged in
// directly, with no call into the authentication primitive. Logging in
// twice is a no-op. Sessions bound to the certificate slot have no token to
// authenticate and report function-not-supported.
func (e *Engine) Login(handle uint, pin []byte) *ckerror.Error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	sess, err := e.sessions.SessionInfo(handle)
	if err != nil {
		return err
	}
	tok := sess.Token
	if tok == nil {
		return ckerror.FunctionNotSupported()
	}
	if !e.pinLimit.Allow(sess.SlotIdx) {
		metrics.RecordLogin("throttled")
		return ckerror.PINIncorrect()
	}

	tok.Lock()
	defer tok.Unlock()
	if tok.LoggedIn {
		metrics.RecordLogin("already-logged-in")
		return nil
	}

	if pin == nil {
		tok.AuthContext = nil
		tok.LoggedIn = true
		e.pinLimit.Reset(sess.SlotIdx)
		metrics.RecordLogin("success")
		e.log.LogSecurityEvent(context.Background(), "login", map[string]interface{}{"slot": sess.SlotIdx, "pin_delegated": true})
		return nil
	}

	ctx, authErr := e.auth.NewContext(tok.TokenID)
	if authErr != nil {
		metrics.RecordLogin("error")
		return ckerror.FunctionFailed("login", authErr)
	}
	for _, ident := range tok.Identities {
		usage := hostapi.AuthUsageSign
		if !ident.PrivCanSign && ident.PrivCanDecrypt {
			usage = hostapi.AuthUsageDecrypt
		}
		if authErr := e.auth.Authenticate(ctx, ident.AccessControlRef, pin, usage); authErr != nil {
			e.auth.Release(ctx)
			metrics.RecordLogin("pin-incorrect")
			return ckerror.PINIncorrect()
		}
	}

	tok.AuthContext = ctx
	tok.LoggedIn = true
	e.pinLimit.Reset(sess.SlotIdx)
	metrics.RecordLogin("success")
	e.log.LogSecurityEvent(context.Background(), "login", map[string]interface{}{"slot": sess.SlotIdx})
	return nil
}

func (e *Engine) Logout(handle uint) *ckerror.Error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	sess, err := e.sessions.SessionInfo(handle)
	if err != nil {
		return err
	}
	tok := sess.Token
	if tok == nil {
		return ckerror.FunctionNotSupported()
	}

	tok.Lock()
	defer tok.Unlock()
	if !tok.LoggedIn {
		return nil
	}
	e.auth.Release(tok.AuthContext)
	tok.AuthContext = nil
	tok.LoggedIn = false
	e.log.LogSecurityEvent(context.Background(), "logout", map[string]interface{}{"slot": sess.SlotIdx})
	return nil
}

func (e *Engine) session(handle uint) (*model.Session, *ckerror.Error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.sessions.SessionInfo(handle)
}

func findObject(sess *model.Session, handle uint) (*model.Object, *ckerror.Error) {
	for _, o := range sess.Objects {
		if o.ID == handle {
			return o, nil
		}
	}
	return nil, ckerror.ObjectHandleInvalid(handle)
}

func (e *Engine) GetAttributeValue(handle, objHandle uint, requests []attrstore.Request) ([]attrstore.Result, *ckerror.Error) {
	sess, err := e.session(handle)
	if err != nil {
		return nil, err
	}
	obj, err := findObject(sess, objHandle)
	if err != nil {
		return nil, err
	}
	return attrstore.GetAttributeValues(obj, requests)
}

func (e *Engine) FindObjectsInit(handle uint, template []model.Attribute) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	search.Init(sess, template)
	return nil
}

func (e *Engine) FindObjects(handle uint, max int) ([]uint, *ckerror.Error) {
	sess, err := e.session(handle)
	if err != nil {
		return nil, err
	}
	return search.Find(sess, max)
}

func (e *Engine) FindObjectsFinal(handle uint) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	search.Final(sess)
	return nil
}

func (e *Engine) EncryptInit(handle, keyHandle uint, mech uint, params any, paramLen int) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	key, err := findObject(sess, keyHandle)
	if err != nil {
		return err
	}
	return opstate.InitEncrypt(sess, key, mech, params, paramLen)
}

func (e *Engine) Encrypt(handle uint, plaintext []byte, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess, err := e.session(handle)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	out, n, opErr := opstate.Encrypt(sess, e.crypto, plaintext, bufLen, bufIsNull)
	metrics.RecordCryptoOperation("encrypt", time.Since(start), opErr == nil)
	return out, n, opErr
}

func (e *Engine) DecryptInit(handle, keyHandle uint, mech uint, params any, paramLen int) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	key, err := findObject(sess, keyHandle)
	if err != nil {
		return err
	}
	return opstate.InitDecrypt(sess, key, mech, params, paramLen)
}

func (e *Engine) Decrypt(handle uint, ciphertext []byte, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess, err := e.session(handle)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	out, n, opErr := opstate.Decrypt(sess, e.crypto, ciphertext, bufLen, bufIsNull)
	metrics.RecordCryptoOperation("decrypt", time.Since(start), opErr == nil)
	return out, n, opErr
}

func (e *Engine) SignInit(handle, keyHandle uint, mech uint, params any, paramLen int) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	key, err := findObject(sess, keyHandle)
	if err != nil {
		return err
	}
	return opstate.InitSign(sess, key, mech, params, paramLen)
}

func (e *Engine) Sign(handle uint, data []byte, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess, err := e.session(handle)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	out, n, opErr := opstate.Sign(sess, e.crypto, data, bufLen, bufIsNull)
	metrics.RecordCryptoOperation("sign", time.Since(start), opErr == nil)
	return out, n, opErr
}

func (e *Engine) SignUpdate(handle uint, data []byte) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	return opstate.SignUpdate(sess, data)
}

func (e *Engine) SignFinal(handle uint, bufLen int, bufIsNull bool) ([]byte, int, *ckerror.Error) {
	sess, err := e.session(handle)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	out, n, opErr := opstate.SignFinal(sess, e.crypto, bufLen, bufIsNull)
	metrics.RecordCryptoOperation("sign", time.Since(start), opErr == nil)
	return out, n, opErr
}

func (e *Engine) VerifyInit(handle, keyHandle uint, mech uint, params any, paramLen int) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	key, err := findObject(sess, keyHandle)
	if err != nil {
		return err
	}
	return opstate.InitVerify(sess, key, mech, params, paramLen)
}

func (e *Engine) Verify(handle uint, data, signature []byte) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	start := time.Now()
	opErr := opstate.Verify(sess, e.crypto, data, signature)
	metrics.RecordCryptoOperation("verify", time.Since(start), opErr == nil)
	return opErr
}

func (e *Engine) VerifyUpdate(handle uint, data []byte) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	return opstate.VerifyUpdate(sess, data)
}

func (e *Engine) VerifyFinal(handle uint, signature []byte) *ckerror.Error {
	sess, err := e.session(handle)
	if err != nil {
		return err
	}
	start := time.Now()
	opErr := opstate.VerifyFinal(sess, e.crypto, signature)
	metrics.RecordCryptoOperation("verify", time.Since(start), opErr == nil)
	return opErr
}
