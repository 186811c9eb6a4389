package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envAskPIN, envKeychainCertSlot, envCertificateList, envOverrideFile} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	p := Load()

	if p.AskPIN() != defaultAskPIN {
		t.Errorf("AskPIN() = %v, want %v", p.AskPIN(), defaultAskPIN)
	}
	if p.KeychainCertSlot() != defaultKeychainCertSlot {
		t.Errorf("KeychainCertSlot() = %d, want %d", p.KeychainCertSlot(), defaultKeychainCertSlot)
	}
	if p.CertificateList() != nil {
		t.Errorf("CertificateList() = %v, want nil", p.CertificateList())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAskPIN, "false")
	t.Setenv(envKeychainCertSlot, "2")
	t.Setenv(envCertificateList, "DOD Root CA, DOD ID CA , ")

	p := Load()

	if p.AskPIN() != false {
		t.Errorf("AskPIN() = true, want false")
	}
	if p.KeychainCertSlot() != 2 {
		t.Errorf("KeychainCertSlot() = %d, want 2", p.KeychainCertSlot())
	}
	want := []string{"DOD Root CA", "DOD ID CA"}
	if len(p.CertificateList()) != len(want) {
		t.Fatalf("CertificateList() = %v, want %v", p.CertificateList(), want)
	}
	for i := range want {
		if p.CertificateList()[i] != want[i] {
			t.Errorf("CertificateList()[%d] = %q, want %q", i, p.CertificateList()[i], want[i])
		}
	}
}

func TestLoadFileOverridesWinOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envKeychainCertSlot, "5")

	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.yaml")
	contents := "askPIN: false\nkeychainCertSlot: 1\ncertificateList:\n  - DOD Root CA\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(envOverrideFile, path)

	p := Load()

	if p.AskPIN() != false {
		t.Errorf("AskPIN() = true, want false from file")
	}
	if p.KeychainCertSlot() != 1 {
		t.Errorf("KeychainCertSlot() = %d, want 1 from file, not env's 5", p.KeychainCertSlot())
	}
	if len(p.CertificateList()) != 1 || p.CertificateList()[0] != "DOD Root CA" {
		t.Errorf("CertificateList() = %v, want [DOD Root CA]", p.CertificateList())
	}
}

func TestLoadMalformedFileFallsBackToEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envKeychainCertSlot, "3")

	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.yaml")
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(envOverrideFile, path)

	p := Load()

	if p.KeychainCertSlot() != 3 {
		t.Errorf("KeychainCertSlot() = %d, want 3 from env after malformed file", p.KeychainCertSlot())
	}
}
