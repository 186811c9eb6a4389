package pinlimit

import "testing"

func TestAllowRespectsBurst(t *testing.T) {
	l := New(Config{AttemptsPerMinute: 5, Burst: 2})

	if !l.Allow(0) {
		t.Fatalf("first attempt should be allowed")
	}
	if !l.Allow(0) {
		t.Fatalf("second attempt (within burst) should be allowed")
	}
	if l.Allow(0) {
		t.Fatalf("third immediate attempt should be throttled")
	}
}

func TestAllowIsPerSlot(t *testing.T) {
	l := New(Config{AttemptsPerMinute: 5, Burst: 1})

	if !l.Allow(0) {
		t.Fatalf("slot 0 first attempt should be allowed")
	}
	if !l.Allow(1) {
		t.Fatalf("slot 1 is independent of slot 0 and should be allowed")
	}
}

func TestReset(t *testing.T) {
	l := New(Config{AttemptsPerMinute: 5, Burst: 1})

	if !l.Allow(0) {
		t.Fatalf("first attempt should be allowed")
	}
	if l.Allow(0) {
		t.Fatalf("second immediate attempt should be throttled")
	}

	l.Reset(0)

	if !l.Allow(0) {
		t.Fatalf("attempt after Reset should be allowed")
	}
}

func TestResetAll(t *testing.T) {
	l := New(Config{AttemptsPerMinute: 5, Burst: 1})
	l.Allow(0)
	l.Allow(1)

	l.ResetAll()

	if !l.Allow(0) {
		t.Fatalf("slot 0 should be allowed after ResetAll")
	}
	if !l.Allow(1) {
		t.Fatalf("slot 1 should be allowed after ResetAll")
	}
}
