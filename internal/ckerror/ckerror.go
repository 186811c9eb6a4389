// Package ckerror provides the engine's unified error type, keyed to the
// Cryptoki return-code space instead of an HTTP status.
package ckerror

import (
	"errors"
	"fmt"

	"github.com/miekg/pkcs11"
)

// Code names one of the engine's error kinds.
type Code string

const (
	CodeNotInitialized        Code = "library-not-initialized"
	CodeAlreadyInitialized    Code = "already-initialized"
	CodeArgumentsBad          Code = "arguments-bad"
	CodeSlotIDInvalid         Code = "slot-id-invalid"
	CodeTokenNotPresent       Code = "token-not-present"
	CodeSessionHandleInvalid  Code = "session-handle-invalid"
	CodeParallelNotSupported  Code = "parallel-not-supported"
	CodeObjectHandleInvalid   Code = "object-handle-invalid"
	CodeKeyHandleInvalid      Code = "key-handle-invalid"
	CodeKeyTypeInconsistent   Code = "key-type-inconsistent"
	CodeKeyFunctionForbidden  Code = "key-function-not-permitted"
	CodeMechanismInvalid      Code = "mechanism-invalid"
	CodeMechanismParamInvalid Code = "mechanism-param-invalid"
	CodeDataLenRange          Code = "data-len-range"
	CodeOperationActive       Code = "operation-active"
	CodeOperationNotInit      Code = "operation-not-initialized"
	CodeBufferTooSmall        Code = "buffer-too-small"
	CodeAttributeTypeInvalid  Code = "attribute-type-invalid"
	CodeSignatureInvalid      Code = "signature-invalid"
	CodeGeneralError          Code = "general-error"
	CodeFunctionFailed        Code = "function-failed"
	CodeFunctionNotSupported  Code = "function-not-supported"
	CodePINIncorrect          Code = "pin-incorrect"
)

// rv maps each Code to the numeric CKR_* constant a real Cryptoki caller
// would see from pkg/cryptoki.
var rv = map[Code]uint{
	CodeNotInitialized:        pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED,
	CodeAlreadyInitialized:    pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED,
	CodeArgumentsBad:          pkcs11.CKR_ARGUMENTS_BAD,
	CodeSlotIDInvalid:         pkcs11.CKR_SLOT_ID_INVALID,
	CodeTokenNotPresent:       pkcs11.CKR_TOKEN_NOT_PRESENT,
	CodeSessionHandleInvalid:  pkcs11.CKR_SESSION_HANDLE_INVALID,
	CodeParallelNotSupported:  pkcs11.CKR_SESSION_PARALLEL_NOT_SUPPORTED,
	CodeObjectHandleInvalid:   pkcs11.CKR_OBJECT_HANDLE_INVALID,
	CodeKeyHandleInvalid:      pkcs11.CKR_KEY_HANDLE_INVALID,
	CodeKeyTypeInconsistent:   pkcs11.CKR_KEY_TYPE_INCONSISTENT,
	CodeKeyFunctionForbidden:  pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED,
	CodeMechanismInvalid:      pkcs11.CKR_MECHANISM_INVALID,
	CodeMechanismParamInvalid: pkcs11.CKR_MECHANISM_PARAM_INVALID,
	CodeDataLenRange:          pkcs11.CKR_DATA_LEN_RANGE,
	CodeOperationActive:       pkcs11.CKR_OPERATION_ACTIVE,
	CodeOperationNotInit:      pkcs11.CKR_OPERATION_NOT_INITIALIZED,
	CodeBufferTooSmall:        pkcs11.CKR_BUFFER_TOO_SMALL,
	CodeAttributeTypeInvalid:  pkcs11.CKR_ATTRIBUTE_TYPE_INVALID,
	CodeSignatureInvalid:      pkcs11.CKR_SIGNATURE_INVALID,
	CodeGeneralError:          pkcs11.CKR_GENERAL_ERROR,
	CodeFunctionFailed:        pkcs11.CKR_FUNCTION_FAILED,
	CodeFunctionNotSupported:  pkcs11.CKR_FUNCTION_NOT_SUPPORTED,
	CodePINIncorrect:          pkcs11.CKR_PIN_INCORRECT,
}

// Error is the engine's error type: a Code, the CKR_* it maps to, a message
// and an optional wrapped cause.
type Error struct {
	Code    Code
	RV      uint
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error for Code with Message.
func New(code Code, message string) *Error {
	return &Error{Code: code, RV: rv[code], Message: message}
}

// Wrap creates an *Error for Code wrapping an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, RV: rv[code], Message: message, Err: err}
}

// Is reports whether err is an *Error with the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// RV extracts the CKR_* numeric return code an error maps to, defaulting to
// CKR_GENERAL_ERROR for anything that isn't one of ours.
func RV(err error) uint {
	if err == nil {
		return pkcs11.CKR_OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.RV
	}
	return pkcs11.CKR_GENERAL_ERROR
}

// Convenience constructors, one per error kind.

func NotInitialized() *Error { return New(CodeNotInitialized, "library not initialized") }
func AlreadyInitialized() *Error {
	return New(CodeAlreadyInitialized, "library already initialized")
}
func ArgumentsBad(detail string) *Error { return New(CodeArgumentsBad, detail) }
func SlotIDInvalid(slot int) *Error {
	return New(CodeSlotIDInvalid, fmt.Sprintf("slot %d is not a valid slot index", slot))
}
func TokenNotPresent(slot int) *Error {
	return New(CodeTokenNotPresent, fmt.Sprintf("slot %d has no token present", slot))
}
func SessionHandleInvalid(session uint) *Error {
	return New(CodeSessionHandleInvalid, fmt.Sprintf("session %d is not open", session))
}
func ParallelNotSupported() *Error {
	return New(CodeParallelNotSupported, "only serial sessions are supported")
}
func ObjectHandleInvalid(object uint) *Error {
	return New(CodeObjectHandleInvalid, fmt.Sprintf("object %d does not exist on this token", object))
}
func KeyHandleInvalid(key uint) *Error {
	return New(CodeKeyHandleInvalid, fmt.Sprintf("key %d does not exist on this token", key))
}
func KeyTypeInconsistent(detail string) *Error { return New(CodeKeyTypeInconsistent, detail) }
func KeyFunctionForbidden(detail string) *Error {
	return New(CodeKeyFunctionForbidden, detail)
}
func MechanismInvalid(mechanism uint) *Error {
	return New(CodeMechanismInvalid, fmt.Sprintf("mechanism 0x%x is not supported", mechanism))
}
func MechanismParamInvalid(detail string) *Error {
	return New(CodeMechanismParamInvalid, detail)
}
func DataLenRange(detail string) *Error   { return New(CodeDataLenRange, detail) }
func OperationActive() *Error             { return New(CodeOperationActive, "a crypto operation is already active on this session") }
func OperationNotInitialized() *Error {
	return New(CodeOperationNotInit, "no crypto operation is active on this session")
}
func BufferTooSmall(required int) *Error {
	return New(CodeBufferTooSmall, fmt.Sprintf("output buffer too small, need %d bytes", required))
}
func AttributeTypeInvalid(detail string) *Error {
	return New(CodeAttributeTypeInvalid, detail)
}
func SignatureInvalid() *Error   { return New(CodeSignatureInvalid, "signature verification failed") }
func GeneralError(err error) *Error {
	return Wrap(CodeGeneralError, "unexpected internal error", err)
}
func FunctionFailed(operation string, err error) *Error {
	return Wrap(CodeFunctionFailed, fmt.Sprintf("%s failed", operation), err)
}
func FunctionNotSupported() *Error {
	return New(CodeFunctionNotSupported, "function not supported")
}
func PINIncorrect() *Error { return New(CodePINIncorrect, "PIN rejected by local authentication subsystem") }
