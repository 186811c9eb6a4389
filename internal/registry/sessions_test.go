package registry

import (
	"testing"

	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

func TestOpenRejectsParallel(t *testing.T) {
	r := NewSessionRegistry()
	_, err := r.Open(0, false, nil, nil)
	if err == nil || err.Code != ckerror.CodeParallelNotSupported {
		t.Fatalf("expected parallel-not-supported, got %v", err)
	}
}

func TestOpenIncrementsTokenRefcount(t *testing.T) {
	r := NewSessionRegistry()
	tok := model.NewToken("tok-a", "A", nil, nil)
	sess, err := r.Open(0, true, nil, tok)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Handle != 1 {
		t.Fatalf("Handle = %d, want 1", sess.Handle)
	}
	if tok.RefCountValue() != 2 {
		t.Fatalf("RefCountValue() = %d, want 2 after open", tok.RefCountValue())
	}
}

func TestOpenReusesFreedHandleBeforeGrowing(t *testing.T) {
	r := NewSessionRegistry()
	tok := model.NewToken("tok-a", "A", nil, nil)
	first, _ := r.Open(0, true, nil, tok)
	r.Close(first.Handle)
	second, _ := r.Open(0, true, nil, tok)
	if second.Handle != first.Handle {
		t.Fatalf("second.Handle = %d, want reused handle %d", second.Handle, first.Handle)
	}
}

func TestOpenGrowsByFiveWhenFull(t *testing.T) {
	r := NewSessionRegistry()
	tok := model.NewToken("tok-a", "A", nil, nil)
	first, err := r.Open(0, true, nil, tok)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if first.Handle != 1 {
		t.Fatalf("first Handle = %d, want 1", first.Handle)
	}
	if len(r.sessions) != 5 {
		t.Fatalf("len(sessions) = %d, want 5 after first open", len(r.sessions))
	}

	for i := 0; i < 4; i++ {
		if _, err := r.Open(0, true, nil, tok); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	sixth, err := r.Open(0, true, nil, tok)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(r.sessions) != 10 {
		t.Fatalf("len(sessions) = %d, want 10 after growth", len(r.sessions))
	}
	if sixth.Handle != 6 {
		t.Fatalf("sixth.Handle = %d, want 6", sixth.Handle)
	}
}

func TestCloseReleasesTokenRefcount(t *testing.T) {
	r := NewSessionRegistry()
	tok := model.NewToken("tok-a", "A", nil, nil)
	sess, _ := r.Open(0, true, nil, tok)
	if err := r.Close(sess.Handle); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tok.RefCountValue() != 1 {
		t.Fatalf("RefCountValue() = %d, want 1 after close", tok.RefCountValue())
	}
	if _, err := r.SessionInfo(sess.Handle); err == nil {
		t.Fatalf("expected session-handle-invalid after close")
	}
}

func TestCloseAllClosesOnlyMatchingSlot(t *testing.T) {
	r := NewSessionRegistry()
	tokA := model.NewToken("tok-a", "A", nil, nil)
	tokB := model.NewToken("tok-b", "B", nil, nil)
	s1, _ := r.Open(0, true, nil, tokA)
	s2, _ := r.Open(0, true, nil, tokA)
	s3, _ := r.Open(1, true, nil, tokB)

	r.CloseAll(0)

	if _, err := r.SessionInfo(s1.Handle); err == nil {
		t.Errorf("session on slot 0 should be closed")
	}
	if _, err := r.SessionInfo(s2.Handle); err == nil {
		t.Errorf("session on slot 0 should be closed")
	}
	if _, err := r.SessionInfo(s3.Handle); err != nil {
		t.Errorf("session on slot 1 should remain open: %v", err)
	}
	if tokA.RefCountValue() != 1 {
		t.Errorf("tokA RefCountValue() = %d, want 1 (registry's own reference only)", tokA.RefCountValue())
	}
}
