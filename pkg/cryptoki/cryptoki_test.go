package cryptoki

import (
	"testing"
	"time"

	"github.com/miekg/pkcs11"

	"hostcryptoki/internal/engine"
	"hostcryptoki/internal/hostapi"
)

func newTestModule(t *testing.T) (*Module, *hostapi.SoftwareHost) {
	t.Helper()
	host := hostapi.NewSoftwareHost()
	m := New()
	cfg := engine.Config{Store: host, Auth: host, Crypto: host, Certs: host, Watcher: host}
	if rv := m.C_Initialize(cfg); rv != pkcs11.CKR_OK {
		t.Fatalf("C_Initialize: CKR 0x%x", rv)
	}
	t.Cleanup(func() { m.C_Finalize() })
	return m, host
}

func waitForSlot(t *testing.T, m *Module) uint {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		slots, rv := m.C_GetSlotList(true)
		if rv != pkcs11.CKR_OK {
			t.Fatalf("C_GetSlotList: CKR 0x%x", rv)
		}
		if len(slots) > 0 {
			return slots[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("token never appeared in slot list")
	return 0
}

func TestDoubleInitializeFails(t *testing.T) {
	m, _ := newTestModule(t)
	if rv := m.C_Initialize(engine.Config{}); rv != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
		t.Fatalf("expected CKR_CRYPTOKI_ALREADY_INITIALIZED, got 0x%x", rv)
	}
}

func TestGetInfoReportsCryptokiV240(t *testing.T) {
	m, _ := newTestModule(t)
	info, rv := m.C_GetInfo()
	if rv != pkcs11.CKR_OK {
		t.Fatalf("C_GetInfo: CKR 0x%x", rv)
	}
	if info.CryptokiVersion.Major != 2 || info.CryptokiVersion.Minor != 40 {
		t.Fatalf("expected Cryptoki v2.40, got %d.%d", info.CryptokiVersion.Major, info.CryptokiVersion.Minor)
	}
}

func TestGetInfoFieldsAreSpacePaddedFixedWidth(t *testing.T) {
	m, _ := newTestModule(t)
	info, rv := m.C_GetInfo()
	if rv != pkcs11.CKR_OK {
		t.Fatalf("C_GetInfo: CKR 0x%x", rv)
	}
	if len(info.ManufacturerID) != 32 {
		t.Fatalf("ManufacturerID width = %d, want 32", len(info.ManufacturerID))
	}
	if len(info.LibraryDescription) != 32 {
		t.Fatalf("LibraryDescription width = %d, want 32", len(info.LibraryDescription))
	}
	if info.ManufacturerID[len(info.ManufacturerID)-1] != ' ' {
		t.Fatalf("ManufacturerID should end in a space pad, got %q", info.ManufacturerID)
	}
}

func TestGetFunctionListMarksNonGoalsUnsupported(t *testing.T) {
	m, _ := newTestModule(t)
	fns := m.C_GetFunctionList()
	if !fns["C_SignInit"] {
		t.Error("expected C_SignInit to be supported")
	}
	if fns["C_GenerateKeyPair"] {
		t.Error("expected C_GenerateKeyPair to be reported unsupported")
	}
}

func TestTokenInfoReportsLoginRequired(t *testing.T) {
	m, host := newTestModule(t)
	if _, err := host.AddIdentity("tok-1", "Alice", []byte("1234"), true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, m)

	info, rv := m.C_GetTokenInfo(slot)
	if rv != pkcs11.CKR_OK {
		t.Fatalf("C_GetTokenInfo: CKR 0x%x", rv)
	}
	if info.Flags&pkcs11.CKF_LOGIN_REQUIRED == 0 {
		t.Error("expected CKF_LOGIN_REQUIRED set for a hardware-backed token")
	}
}

func TestSignVerifyRoundTripThroughFunctionTable(t *testing.T) {
	m, host := newTestModule(t)
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, m)

	session, rv := m.C_OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if rv != pkcs11.CKR_OK {
		t.Fatalf("C_OpenSession: CKR 0x%x", rv)
	}

	if rv := m.C_FindObjectsInit(session, nil); rv != pkcs11.CKR_OK {
		t.Fatalf("C_FindObjectsInit: CKR 0x%x", rv)
	}
	handles, rv := m.C_FindObjects(session, 10)
	if rv != pkcs11.CKR_OK {
		t.Fatalf("C_FindObjects: CKR 0x%x", rv)
	}
	if rv := m.C_FindObjectsFinal(session); rv != pkcs11.CKR_OK {
		t.Fatalf("C_FindObjectsFinal: CKR 0x%x", rv)
	}
	if len(handles) != 3 {
		t.Fatalf("expected 3 objects (cert, pub, priv), got %d", len(handles))
	}

	if rv := m.C_SignInit(session, pkcs11.CKM_SHA256_RSA_PKCS, nil, 0, handles[2]); rv != pkcs11.CKR_OK {
		t.Fatalf("C_SignInit: CKR 0x%x", rv)
	}
	sig, rv := m.C_Sign(session, []byte("function table round trip"), 256, false)
	if rv != pkcs11.CKR_OK {
		t.Fatalf("C_Sign: CKR 0x%x", rv)
	}

	if rv := m.C_VerifyInit(session, pkcs11.CKM_SHA256_RSA_PKCS, nil, 0, handles[1]); rv != pkcs11.CKR_OK {
		t.Fatalf("C_VerifyInit: CKR 0x%x", rv)
	}
	if rv := m.C_Verify(session, []byte("function table round trip"), sig); rv != pkcs11.CKR_OK {
		t.Fatalf("C_Verify: CKR 0x%x", rv)
	}

	if rv := m.C_CloseSession(session); rv != pkcs11.CKR_OK {
		t.Fatalf("C_CloseSession: CKR 0x%x", rv)
	}
}

func TestOpenSessionRejectsReadWrite(t *testing.T) {
	m, host := newTestModule(t)
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	host.NotifyInsert("tok-1")
	slot := waitForSlot(t, m)

	if _, rv := m.C_OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION); rv != pkcs11.CKR_FUNCTION_NOT_SUPPORTED {
		t.Fatalf("expected CKR_FUNCTION_NOT_SUPPORTED for R/W session, got 0x%x", rv)
	}
}
