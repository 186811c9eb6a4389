package registry

import (
	"sync"

	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

// SessionRegistry owns the session array shape and entry pointers: the
// session-registry-lock. Handles are 1-based indices into the array.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions []*model.Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// Open allocates a session bound to slotIdx's object list, incrementing
// token's refcount (token is nil for certificate-slot sessions, which have
// no refcounted token). serial must be true; a non-serial request fails
// parallel-not-supported. A free array index is preferred, else
// the array grows by five.
func (r *SessionRegistry) Open(slotIdx int, serial bool, objects []*model.Object, token *model.Token) (*model.Session, *ckerror.Error) {
	if !serial {
		return nil, ckerror.ParallelNotSupported()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sessions {
		if s == nil {
			sess := newSession(uint(i+1), slotIdx, objects, token)
			r.sessions[i] = sess
			if token != nil {
				token.Retain()
			}
			return sess, nil
		}
	}

	base := len(r.sessions)
	for k := 0; k < 5; k++ {
		r.sessions = append(r.sessions, nil)
	}
	sess := newSession(uint(base+1), slotIdx, objects, token)
	r.sessions[base] = sess
	if token != nil {
		token.Retain()
	}
	return sess, nil
}

func newSession(handle uint, slotIdx int, objects []*model.Object, token *model.Token) *model.Session {
	return &model.Session{
		Handle:     handle,
		SlotIdx:    slotIdx,
		Token:      token,
		Objects:    objects,
		ObjectsLen: len(objects),
	}
}

// Close frees the session, setting its array slot to empty and releasing
// its token reference. Closing a session whose token was already removed
// is allowed: the token's refcount simply finally reaches zero.
func (r *SessionRegistry) Close(handle uint) *ckerror.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(handle) - 1
	if idx < 0 || idx >= len(r.sessions) || r.sessions[idx] == nil {
		return ckerror.SessionHandleInvalid(handle)
	}
	sess := r.sessions[idx]
	r.sessions[idx] = nil
	if sess.Token != nil {
		sess.Token.Release()
	}
	return nil
}

// CloseAll closes every session bound to slotIdx. The array lock
// is acquired first and per-session locks are taken inside it, in order,
// never the reverse.
func (r *SessionRegistry) CloseAll(slotIdx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sessions {
		if s == nil || s.SlotIdx != slotIdx {
			continue
		}
		s.Lock()
		tok := s.Token
		r.sessions[i] = nil
		s.Unlock()
		if tok != nil {
			tok.Release()
		}
	}
}

// Count returns the number of currently open sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// SessionInfo returns the session bound to handle.
func (r *SessionRegistry) SessionInfo(handle uint) (*model.Session, *ckerror.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(handle) - 1
	if idx < 0 || idx >= len(r.sessions) || r.sessions[idx] == nil {
		return nil, ckerror.SessionHandleInvalid(handle)
	}
	return r.sessions[idx], nil
}
