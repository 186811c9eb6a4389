package logging

import (
	"errors"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "pin in message",
			err:  errors.New("login failed: pin=1234 invalid"),
			want: "login failed: pin=[REDACTED] invalid",
		},
		{
			name: "no sensitive content",
			err:  errors.New("slot 3 not present"),
			want: "slot 3 not present",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("Redact(nil) = %v, want nil", got)
				}
				return
			}
			if got.Error() != tt.want {
				t.Errorf("Redact() = %q, want %q", got.Error(), tt.want)
			}
		})
	}
}

func TestRedactMap(t *testing.T) {
	in := map[string]interface{}{
		"pin":       "1234",
		"slot":      3,
		"unrelated": "fine",
	}
	out := RedactMap(in)

	if out["pin"] != "[REDACTED]" {
		t.Errorf("pin field not redacted: %v", out["pin"])
	}
	if out["slot"] != 3 {
		t.Errorf("non-sensitive field mutated: %v", out["slot"])
	}
	if out["unrelated"] != "fine" {
		t.Errorf("unrelated field mutated: %v", out["unrelated"])
	}
}
