// Package registry implements the Slot/Token Registry and the Session
// Registry, including the slot-registry-lock -> session-registry-lock ->
// token-lock -> session-lock ordering discipline they share.
package registry

import (
	"sync"

	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

// CertSlotIndex is the reserved slot index for the certificate slot, held
// outside the real slot array.
const CertSlotIndex = 254

// SlotInfo is what slot-info reports: the hardware/removable distinction
// plus whether a token currently occupies the slot.
type SlotInfo struct {
	Index        int
	Removable    bool
	Hardware     bool
	TokenPresent bool
}

// SlotRegistry owns the slot array shape and entry pointers: the
// slot-registry-lock.
type SlotRegistry struct {
	mu              sync.Mutex
	slots           []*model.Slot
	certSlotEnabled bool
}

// NewSlotRegistry creates an empty registry. certSlotEnabled mirrors the
// resolved keychainCertSlot preference.
func NewSlotRegistry(certSlotEnabled bool) *SlotRegistry {
	return &SlotRegistry{certSlotEnabled: certSlotEnabled}
}

// Enumerate returns occupied slot indices (or all, if presentOnly is
// false), ascending, with the certificate slot index appended last iff
// enabled.
func (r *SlotRegistry) Enumerate(presentOnly bool) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []int
	for i, s := range r.slots {
		if !presentOnly || s.Occupied() {
			out = append(out, i)
		}
	}
	if r.certSlotEnabled {
		out = append(out, CertSlotIndex)
	}
	return out
}

// checkValid implements the slot validity rule: idx must be
// either the enabled certificate slot, or a real index < registry size;
// requirePresent additionally demands a real slot be occupied.
func (r *SlotRegistry) checkValid(idx int, requirePresent bool) *ckerror.Error {
	if idx == CertSlotIndex {
		if !r.certSlotEnabled {
			return ckerror.SlotIDInvalid(idx)
		}
		return nil
	}
	if idx < 0 || idx >= len(r.slots) {
		return ckerror.SlotIDInvalid(idx)
	}
	if requirePresent && !r.slots[idx].Occupied() {
		return ckerror.TokenNotPresent(idx)
	}
	return nil
}

// SlotInfo reports hardware/removable/presence for idx.
func (r *SlotRegistry) SlotInfo(idx int) (SlotInfo, *ckerror.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkValid(idx, false); err != nil {
		return SlotInfo{}, err
	}
	if idx == CertSlotIndex {
		return SlotInfo{Index: idx, Removable: false, Hardware: false, TokenPresent: true}, nil
	}
	return SlotInfo{Index: idx, Removable: true, Hardware: true, TokenPresent: r.slots[idx].Occupied()}, nil
}

// TokenInfo returns the token bound to idx. Requires the slot to be
// present. The certificate slot has no *model.Token (its fixed info is
// synthesized by the caller); TokenInfo returns (nil, nil) for it.
func (r *SlotRegistry) TokenInfo(idx int) (*model.Token, *ckerror.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkValid(idx, true); err != nil {
		return nil, err
	}
	if idx == CertSlotIndex {
		return nil, nil
	}
	return r.slots[idx].Token, nil
}

// Count returns the number of slots currently occupied by a token.
func (r *SlotRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.slots {
		if s.Occupied() {
			n++
		}
	}
	return n
}

// AddToken places token in the first empty slot, growing the registry by
// one if none exists, and returns the slot index. Building the token
// (identity loading, object construction) is the caller's responsibility;
// AddToken only performs the slot-selection half of the insertion
// algorithm.
func (r *SlotRegistry) AddToken(token *model.Token) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if !s.Occupied() {
			s.Token = token
			return s.Index
		}
	}
	idx := len(r.slots)
	r.slots = append(r.slots, &model.Slot{Index: idx, Token: token})
	return idx
}

// RemoveToken scans for a slot whose token's identifier equals tokenID
// (string equality serves as the host's opaque-identifier equality
// primitive here), empties it, and releases the token's registry
// reference. Returns the removed token and its former slot index, or ok
// false if no matching slot was found.
func (r *SlotRegistry) RemoveToken(tokenID string) (tok *model.Token, slotIdx int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.Occupied() && s.Token.TokenID == tokenID {
			tok = s.Token
			slotIdx = s.Index
			s.Token = nil
			tok.Release()
			return tok, slotIdx, true
		}
	}
	return nil, -1, false
}
