// Package search implements the object search engine:
// find-init / find / find-final against a session's bound object list.
package search

import (
	"bytes"

	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

// Init deep-copies template into session state and resets the cursor, per
// find-init. A session already mid-search is simply restarted: find-init
// has no "already active" precondition (only *-init for
// crypto operations does).
func Init(sess *model.Session, template []model.Attribute) {
	sess.Lock()
	defer sess.Unlock()

	cp := make([]model.Attribute, len(template))
	for i, a := range template {
		v := make([]byte, len(a.Value))
		copy(v, a.Value)
		cp[i] = model.Attribute{Type: a.Type, Value: v}
	}
	sess.SearchTemplate = cp
	sess.SearchCursor = 0
}

// Find advances the cursor over sess's bound object list, returning up to
// max matching handles. max must be positive; a caller wanting to drain the
// whole list passes a bound covering it, since max == 0 is an
// arguments-bad caller error, not "unbounded". An object matches iff every
// template attribute has the same type, length and byte-equal value on the
// object; a template attribute whose value is nil matches an object
// attribute whose value is also nil (both "null pointers"). An empty
// template matches everything.
func Find(sess *model.Session, max int) ([]uint, *ckerror.Error) {
	sess.Lock()
	defer sess.Unlock()

	if max <= 0 {
		return nil, ckerror.ArgumentsBad("find: max must be > 0")
	}

	var out []uint
	for sess.SearchCursor < len(sess.Objects) {
		obj := sess.Objects[sess.SearchCursor]
		sess.SearchCursor++
		if matches(obj, sess.SearchTemplate) {
			out = append(out, obj.ID)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

// Final releases the template copy, per find-final.
func Final(sess *model.Session) {
	sess.Lock()
	defer sess.Unlock()
	sess.ClearSearch()
}

func matches(obj *model.Object, template []model.Attribute) bool {
	for _, want := range template {
		got, found := obj.Attr(want.Type)
		if !found {
			return false
		}
		if want.Value == nil && got == nil {
			continue
		}
		if len(want.Value) != len(got) {
			return false
		}
		if !bytes.Equal(want.Value, got) {
			return false
		}
	}
	return true
}
