package attrstore

import (
	"testing"

	"hostcryptoki/internal/ckerror"
	"hostcryptoki/internal/model"
)

func testObject() *model.Object {
	return &model.Object{
		ID:    1,
		Class: model.ClassCertificate,
		Attributes: []model.Attribute{
			{Type: 1, Value: []byte("hello")},
			{Type: 2, Value: []byte{0xde, 0xad, 0xbe, 0xef}},
		},
	}
}

func TestGetAttributeValuesCopiesWhenBufferFits(t *testing.T) {
	results, err := GetAttributeValues(testObject(), []Request{{Type: 1, BufLen: 16}})
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if results[0].Length != 5 || string(results[0].Value) != "hello" {
		t.Errorf("got %+v", results[0])
	}
}

func TestGetAttributeValuesNullBufferReturnsLengthOnly(t *testing.T) {
	results, err := GetAttributeValues(testObject(), []Request{{Type: 1, BufIsNull: true}})
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if results[0].Length != 5 || results[0].Value != nil {
		t.Errorf("got %+v, want length 5 and no value", results[0])
	}
}

func TestGetAttributeValuesTooSmallBuffer(t *testing.T) {
	results, err := GetAttributeValues(testObject(), []Request{{Type: 2, BufLen: 2}})
	if err == nil || err.Code != ckerror.CodeBufferTooSmall {
		t.Fatalf("expected buffer-too-small, got %v", err)
	}
	if results[0].Length != 4 || results[0].Value != nil {
		t.Errorf("got %+v, want length 4 and no copy", results[0])
	}
}

func TestGetAttributeValuesMissingAttribute(t *testing.T) {
	results, err := GetAttributeValues(testObject(), []Request{{Type: 99, BufLen: 16}})
	if err == nil || err.Code != ckerror.CodeAttributeTypeInvalid {
		t.Fatalf("expected attribute-type-invalid, got %v", err)
	}
	if results[0].Length != Unavailable {
		t.Errorf("Length = %d, want Unavailable", results[0].Length)
	}
}

func TestGetAttributeValuesAccumulatesAcrossRequests(t *testing.T) {
	requests := []Request{
		{Type: 99, BufLen: 16},
		{Type: 1, BufLen: 16},
		{Type: 2, BufLen: 1},
	}
	results, err := GetAttributeValues(testObject(), requests)
	if err == nil {
		t.Fatalf("expected a summary error")
	}
	if results[0].Length != Unavailable {
		t.Errorf("request 0: got %+v", results[0])
	}
	if string(results[1].Value) != "hello" {
		t.Errorf("request 1: got %+v, want copied value", results[1])
	}
	if results[2].Length != 4 || results[2].Value != nil {
		t.Errorf("request 2: got %+v, want too-small with no copy", results[2])
	}
}
