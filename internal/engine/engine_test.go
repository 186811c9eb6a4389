package engine

import (
	"testing"
	"time"

	"github.com/miekg/pkcs11"
	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/hostapi"
	"hostcryptoki/internal/registry"
)

func newTestEngine(t *testing.T) (*Engine, *hostapi.SoftwareHost) {
	t.Helper()
	host := hostapi.NewSoftwareHost()
	e := New()
	cfg := Config{Store: host, Auth: host, Crypto: host, Certs: host, Watcher: host}
	if err := e.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { e.Finalize() })
	return e, host
}

func waitForSlot(t *testing.T, e *Engine) int {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		slots, err := e.GetSlotList(true)
		if err != nil {
			t.Fatalf("GetSlotList: %v", err)
		}
		if len(slots) > 0 {
			return slots[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("token never appeared in slot list")
	return -1
}

func TestInitializeRejectsDoubleCall(t *testing.T) {
	e, _ := newTestEngine(t)
	host := hostapi.NewSoftwareHost()
	if err := e.Initialize(Config{Store: host, Auth: host, Crypto: host, Certs: host}); err == nil || err.Code != ckerror.CodeAlreadyInitialized {
		t.Fatalf("expected already-initialized, got %v", err)
	}
}

func TestFinalizeBeforeInitializeFails(t *testing.T) {
	e := New()
	if err := e.Finalize(); err == nil || err.Code != ckerror.CodeNotInitialized {
		t.Fatalf("expected not-initialized, got %v", err)
	}
}

func TestEnumerateEmptyBeforeInsertion(t *testing.T) {
	e, _ := newTestEngine(t)
	slots, err := e.GetSlotList(true)
	if err != nil {
		t.Fatalf("GetSlotList: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no present slots, got %v", slots)
	}
}

func TestHotPlugSessionSurvivesRemovalUntilClosed(t *testing.T) {
	e, host := newTestEngine(t)
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, e)

	sess, err := e.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	host.RemoveToken("tok-1")
	deadline := time.Now().Add(time.Second)
	for {
		info, err := e.GetSlotInfo(slot)
		if err != nil {
			t.Fatalf("GetSlotInfo after removal: %v", err)
		}
		if !info.TokenPresent {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("token never reported removed")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := e.FindObjects(sess.Handle, 10); err != nil {
		t.Fatalf("FindObjects on session bound to removed token should still work: %v", err)
	}
	if err := e.CloseSession(sess.Handle); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
}

func TestLoginLogoutAndImplicitLogoutOnLastSessionClose(t *testing.T) {
	e, host := newTestEngine(t)
	if _, err := host.AddIdentity("tok-1", "Alice", []byte("1234"), true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, e)

	sess, err := e.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := e.Login(sess.Handle, []byte("1234")); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := e.Login(sess.Handle, []byte("1234")); err != nil {
		t.Fatalf("second Login should be a no-op, got %v", err)
	}

	tok, err := e.GetTokenInfo(slot)
	if err != nil {
		t.Fatalf("GetTokenInfo: %v", err)
	}
	if !tok.LoggedIn {
		t.Fatalf("expected token to be logged in")
	}

	if err := e.CloseSession(sess.Handle); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if tok.LoggedIn {
		t.Errorf("expected implicit logout once the last session closed")
	}
}

func TestLoginWithNullPinDelegatesToPlatform(t *testing.T) {
	e, host := newTestEngine(t)
	if _, err := host.AddIdentity("tok-1", "Alice", []byte("1234"), true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, e)

	sess, err := e.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// A null pin against a PIN-enrolled identity would be rejected by
	// Authenticate; Login must never reach that call in this path.
	if err := e.Login(sess.Handle, nil); err != nil {
		t.Fatalf("Login with nil pin should succeed, got %v", err)
	}

	tok, err := e.GetTokenInfo(slot)
	if err != nil {
		t.Fatalf("GetTokenInfo: %v", err)
	}
	if !tok.LoggedIn {
		t.Fatalf("expected token to be logged in after null-pin login")
	}
}

func TestOpenSessionRejectsReadWrite(t *testing.T) {
	e, host := newTestEngine(t)
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, e)

	if _, err := e.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION); err == nil || err.Code != ckerror.CodeFunctionNotSupported {
		t.Fatalf("expected function-not-supported for R/W session, got %v", err)
	}
}

func TestOpenSessionRejectsParallel(t *testing.T) {
	e, host := newTestEngine(t)
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, e)

	if _, err := e.OpenSession(slot, 0); err == nil || err.Code != ckerror.CodeParallelNotSupported {
		t.Fatalf("expected parallel-not-supported, got %v", err)
	}
}

func TestSignRoundTripThroughEngine(t *testing.T) {
	e, host := newTestEngine(t)
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, e)

	sess, err := e.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if err := e.FindObjectsInit(sess.Handle, nil); err != nil {
		t.Fatalf("FindObjectsInit: %v", err)
	}
	handles, err := e.FindObjects(sess.Handle, 10)
	if err != nil {
		t.Fatalf("FindObjects: %v", err)
	}
	if err := e.FindObjectsFinal(sess.Handle); err != nil {
		t.Fatalf("FindObjectsFinal: %v", err)
	}
	if len(handles) != 3 {
		t.Fatalf("expected 3 objects (cert, pub, priv), got %d", len(handles))
	}

	if err := e.SignInit(sess.Handle, handles[2], pkcs11.CKM_SHA256_RSA_PKCS, nil, 0); err != nil {
		t.Fatalf("SignInit: %v", err)
	}
	sig, _, err := e.Sign(sess.Handle, []byte("engine round trip"), 256, false)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := e.VerifyInit(sess.Handle, handles[1], pkcs11.CKM_SHA256_RSA_PKCS, nil, 0); err != nil {
		t.Fatalf("VerifyInit: %v", err)
	}
	if err := e.Verify(sess.Handle, []byte("engine round trip"), sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestCertSlotDisabledByDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.GetSlotInfo(registry.CertSlotIndex); err == nil || err.Code != ckerror.CodeSlotIDInvalid {
		t.Fatalf("expected certificate slot to be disabled by default, got %v", err)
	}
}
