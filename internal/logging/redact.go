package logging

import (
	"regexp"
	"strings"
)

// pinPattern catches a bare PIN/password-shaped value so it never lands in a
// log line even if a caller mistakenly threads one through an error message.
var pinPattern = regexp.MustCompile(`(?i)(pin|password|passwd)\s*[:=]\s*['"]?([^'"\s]{1,64})['"]?`)

var sensitiveFieldNames = []string{
	"pin", "password", "passwd", "secret", "privatekey", "private_key",
	"signature", "plaintext", "ciphertext", "keymaterial", "key_material",
}

// Redact replaces PIN-shaped substrings in an error's message with a mask and
// returns a plain error carrying the sanitized text.
func Redact(err error) error {
	if err == nil {
		return nil
	}
	return redactedError(pinPattern.ReplaceAllString(err.Error(), "$1=[REDACTED]"))
}

type redactedError string

func (r redactedError) Error() string { return string(r) }

// RedactMap masks values whose key looks like it carries a credential or raw
// key material, and scrubs PIN-shaped substrings out of string values.
func RedactMap(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		lower := strings.ToLower(k)
		sensitive := false
		for _, name := range sensitiveFieldNames {
			if strings.Contains(lower, name) {
				sensitive = true
				break
			}
		}
		if sensitive {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = pinPattern.ReplaceAllString(s, "$1=[REDACTED]")
			continue
		}
		out[k] = v
	}
	return out
}
