package identity

import (
	"testing"

	"hostcryptoki/internal/hostapi"
)

func TestLoadResolvesIdentities(t *testing.T) {
	host := hostapi.NewSoftwareHost()
	if _, err := host.AddIdentity("tok-1", "Alice", nil, true, true); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	if _, err := host.AddIdentity("tok-1", "Bob", nil, true, false); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}

	identities := Load(host, "ctx", "tok-1", nil)
	if len(identities) != 2 {
		t.Fatalf("Load() returned %d identities, want 2", len(identities))
	}
	for _, ident := range identities {
		if len(ident.CertificateDER) == 0 {
			t.Errorf("identity %s has no certificate", ident.Label)
		}
		if !ident.PrivCanSign {
			t.Errorf("identity %s should be able to sign", ident.Label)
		}
	}
}

func TestLoadUnknownTokenReturnsEmpty(t *testing.T) {
	host := hostapi.NewSoftwareHost()
	identities := Load(host, "ctx", "no-such-token", nil)
	if len(identities) != 0 {
		t.Fatalf("Load() returned %d identities for unknown token, want 0", len(identities))
	}
}
