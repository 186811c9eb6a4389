// Package attrstore implements attribute lookup:
// get-attribute-values semantics against an already-built object.
package attrstore

import (
	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

// Unavailable is the sentinel length written into a Result entry when the
// requested attribute type does not exist on the object.
const Unavailable = ^uint(0)

// Request is one attribute the caller wants: the type to look up, the
// capacity of the buffer the caller supplied, and whether that buffer is
// null (BufIsNull: report the length only).
type Request struct {
	Type       uint
	BufLen     int
	BufIsNull  bool
}

// Result is what one Request resolved to: the length to report back (or
// Unavailable) and the bytes to copy, if any fit.
type Result struct {
	Type   uint
	Length uint
	Value  []byte // nil if not copied (null buffer, too-small buffer, or unavailable)
}

// GetAttributeValues resolves every requested attribute against obj. Per
// Conditions accumulate across requests: the call returns one summary
// error while writing as much per-attribute metadata as possible into the
// results slice, which is always len(requests) long.
func GetAttributeValues(obj *model.Object, requests []Request) ([]Result, *ckerror.Error) {
	results := make([]Result, len(requests))
	var summary *ckerror.Error

	for i, req := range requests {
		value, found := obj.Attr(req.Type)
		if !found {
			results[i] = Result{Type: req.Type, Length: Unavailable}
			if summary == nil {
				summary = ckerror.AttributeTypeInvalid("attribute not present on object")
			}
			continue
		}

		length := uint(len(value))
		results[i] = Result{Type: req.Type, Length: length}

		if req.BufIsNull {
			continue
		}
		if req.BufLen < len(value) {
			if summary == nil {
				summary = ckerror.BufferTooSmall(len(value))
			}
			continue
		}

		buf := make([]byte, len(value))
		copy(buf, value)
		results[i].Value = buf
	}

	return results, summary
}
