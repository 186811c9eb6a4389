package ckerror

import (
	"errors"
	"testing"

	"github.com/miekg/pkcs11"
)

func TestRVMapping(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want uint
	}{
		{"slot id invalid", SlotIDInvalid(9), pkcs11.CKR_SLOT_ID_INVALID},
		{"token not present", TokenNotPresent(0), pkcs11.CKR_TOKEN_NOT_PRESENT},
		{"session handle invalid", SessionHandleInvalid(42), pkcs11.CKR_SESSION_HANDLE_INVALID},
		{"function not supported", FunctionNotSupported(), pkcs11.CKR_FUNCTION_NOT_SUPPORTED},
		{"operation active", OperationActive(), pkcs11.CKR_OPERATION_ACTIVE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.RV != tt.want {
				t.Errorf("RV = 0x%x, want 0x%x", tt.err.RV, tt.want)
			}
			if RV(tt.err) != tt.want {
				t.Errorf("RV(err) = 0x%x, want 0x%x", RV(tt.err), tt.want)
			}
		})
	}
}

func TestRVNilIsOK(t *testing.T) {
	if RV(nil) != pkcs11.CKR_OK {
		t.Errorf("RV(nil) = 0x%x, want CKR_OK", RV(nil))
	}
}

func TestRVNonEngineErrorIsGeneral(t *testing.T) {
	if got := RV(errors.New("boom")); got != pkcs11.CKR_GENERAL_ERROR {
		t.Errorf("RV(plain error) = 0x%x, want CKR_GENERAL_ERROR", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk read failed")
	wrapped := FunctionFailed("C_Sign", cause)

	if !errors.Is(wrapped, cause) {
		t.Errorf("errors.Is did not find wrapped cause")
	}
	if wrapped.RV != pkcs11.CKR_FUNCTION_FAILED {
		t.Errorf("RV = 0x%x, want CKR_FUNCTION_FAILED", wrapped.RV)
	}
}

func TestIs(t *testing.T) {
	err := MechanismInvalid(pkcs11.CKM_RSA_PKCS)
	if !Is(err, CodeMechanismInvalid) {
		t.Errorf("Is() = false, want true")
	}
	if Is(err, CodeSlotIDInvalid) {
		t.Errorf("Is() matched wrong code")
	}
	if Is(errors.New("plain"), CodeMechanismInvalid) {
		t.Errorf("Is() matched a non-Error")
	}
}
