package registry

import (
	"testing"

	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

func TestEnumerateOrdersAscendingWithCertSlotLast(t *testing.T) {
	r := NewSlotRegistry(true)
	r.AddToken(model.NewToken("tok-a", "A", nil, nil))
	r.AddToken(model.NewToken("tok-b", "B", nil, nil))

	got := r.Enumerate(false)
	want := []int{0, 1, CertSlotIndex}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEnumeratePresentOnlySkipsEmptySlots(t *testing.T) {
	r := NewSlotRegistry(false)
	r.AddToken(model.NewToken("tok-a", "A", nil, nil))
	r.AddToken(model.NewToken("tok-b", "B", nil, nil))
	_, slotIdx, _ := r.RemoveToken("tok-a")
	_ = slotIdx

	got := r.Enumerate(true)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1] (empty slot 0 skipped)", got)
	}
}

func TestSlotInfoInvalidIndex(t *testing.T) {
	r := NewSlotRegistry(false)
	_, err := r.SlotInfo(5)
	if err == nil || err.Code != ckerror.CodeSlotIDInvalid {
		t.Fatalf("expected slot-id-invalid, got %v", err)
	}
}

func TestTokenInfoRequiresPresence(t *testing.T) {
	r := NewSlotRegistry(false)
	r.AddToken(model.NewToken("tok-a", "A", nil, nil))
	r.RemoveToken("tok-a")

	_, err := r.TokenInfo(0)
	if err == nil || err.Code != ckerror.CodeTokenNotPresent {
		t.Fatalf("expected token-not-present for emptied slot, got %v", err)
	}
}

func TestCertSlotDisabledIsInvalid(t *testing.T) {
	r := NewSlotRegistry(false)
	_, err := r.SlotInfo(CertSlotIndex)
	if err == nil || err.Code != ckerror.CodeSlotIDInvalid {
		t.Fatalf("expected slot-id-invalid for disabled cert slot, got %v", err)
	}
}

func TestAddTokenReusesEmptySlotBeforeGrowing(t *testing.T) {
	r := NewSlotRegistry(false)
	idxA := r.AddToken(model.NewToken("tok-a", "A", nil, nil))
	r.RemoveToken("tok-a")
	idxB := r.AddToken(model.NewToken("tok-b", "B", nil, nil))
	if idxA != idxB {
		t.Fatalf("AddToken should reuse slot %d, got %d", idxA, idxB)
	}
}

func TestRemoveTokenReleasesRefcount(t *testing.T) {
	r := NewSlotRegistry(false)
	tok := model.NewToken("tok-a", "A", nil, nil)
	r.AddToken(tok)
	removed, idx, ok := r.RemoveToken("tok-a")
	if !ok || idx != 0 || removed != tok {
		t.Fatalf("RemoveToken = (%v, %d, %v), want matching token at 0", removed, idx, ok)
	}
	if removed.RefCountValue() != 0 {
		t.Fatalf("RefCountValue() = %d, want 0 after removal of never-opened token", removed.RefCountValue())
	}
}
