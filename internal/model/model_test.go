package model

import "testing"

func TestTokenRefCountLifecycle(t *testing.T) {
	tok := NewToken("tok-1", "Hardware token", nil, nil)
	if tok.RefCountValue() != 1 {
		t.Fatalf("new token refcount = %d, want 1", tok.RefCountValue())
	}

	if got := tok.Retain(); got != 2 {
		t.Fatalf("after session open, refcount = %d, want 2", got)
	}
	if got := tok.Release(); got != 1 {
		t.Fatalf("after session close, refcount = %d, want 1 (logout should fire here)", got)
	}
	if got := tok.Release(); got != 0 {
		t.Fatalf("after removal release, refcount = %d, want 0 (token should free)", got)
	}
}

func TestObjectAttrLookup(t *testing.T) {
	obj := &Object{
		ID:    1,
		Class: ClassCertificate,
		Attributes: []Attribute{
			{Type: 1, Value: []byte("hello")},
		},
	}

	v, ok := obj.Attr(1)
	if !ok || string(v) != "hello" {
		t.Fatalf("Attr(1) = %v, %v; want \"hello\", true", v, ok)
	}

	if _, ok := obj.Attr(2); ok {
		t.Fatalf("Attr(2) found a value that was never set")
	}
}

func TestOpStateStrings(t *testing.T) {
	tests := map[OpState]string{
		OpNone:        "none",
		OpEncryptInit: "E-init",
		OpSignUpdate:  "S-update",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestSessionResetOperation(t *testing.T) {
	s := &Session{State: OpSignUpdate, KeyObject: &Object{ID: 3}}
	s.AppendDigestInput([]byte("partial"))

	s.ResetOperation()

	if s.State != OpNone {
		t.Errorf("State = %v, want none", s.State)
	}
	if s.KeyObject != nil {
		t.Errorf("KeyObject not released")
	}
	if len(s.DigestInput()) != 0 {
		t.Errorf("digest accumulator not cleared")
	}
}
