// Package prefs resolves the engine's small set of host-overridable
// preferences using an override-file-then-environment-then-default loader,
// with three accessors: whether a C_Login PIN is relayed to local
// authentication, whether the platform trust-store certificate slot is
// enabled, and an optional substring allow-list for which certificates
// populate that slot.
package prefs

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain is the preference domain name this package resolves values under,
// mirrored as the prefix for its environment variable fallbacks.
const Domain = "mil.navy.nrl.cmf.pkcs11"

const (
	keyAskPIN           = "askPIN"
	keyKeychainCertSlot = "keychainCertSlot"
	keyCertificateList  = "certificateList"
)

const (
	envAskPIN           = "PKCS11_ASK_PIN"
	envKeychainCertSlot = "PKCS11_KEYCHAIN_CERT_SLOT"
	envCertificateList  = "PKCS11_CERTIFICATE_LIST"
	envOverrideFile     = "PKCS11_PREFS_FILE"
)

const (
	defaultAskPIN           = true
	defaultKeychainCertSlot = 0
)

// fileOverrides is the shape of an optional on-disk override, read once at
// Load time from PKCS11_PREFS_FILE when set.
type fileOverrides struct {
	AskPIN           *bool    `yaml:"askPIN"`
	KeychainCertSlot *int     `yaml:"keychainCertSlot"`
	CertificateList  []string `yaml:"certificateList"`
}

// Preferences holds the resolved values for one process lifetime. The zero
// value is not usable; build one with Load.
type Preferences struct {
	askPIN           bool
	keychainCertSlot int
	certificateList  []string
}

// Load resolves preferences in override-file > environment variable > default
// order. A malformed or unreadable override file is not fatal: it is skipped
// and resolution falls through to the environment/default tiers.
func Load() *Preferences {
	var file fileOverrides
	if path := strings.TrimSpace(os.Getenv(envOverrideFile)); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &file)
		}
	}

	p := &Preferences{
		askPIN:           defaultAskPIN,
		keychainCertSlot: defaultKeychainCertSlot,
	}

	switch {
	case file.AskPIN != nil:
		p.askPIN = *file.AskPIN
	case envSet(envAskPIN):
		p.askPIN = envBool(envAskPIN, defaultAskPIN)
	}

	switch {
	case file.KeychainCertSlot != nil:
		p.keychainCertSlot = *file.KeychainCertSlot
	case envSet(envKeychainCertSlot):
		p.keychainCertSlot = envInt(envKeychainCertSlot, defaultKeychainCertSlot)
	}

	switch {
	case len(file.CertificateList) > 0:
		p.certificateList = file.CertificateList
	case envSet(envCertificateList):
		p.certificateList = splitAndTrimCSV(os.Getenv(envCertificateList))
	default:
		p.certificateList = nil
	}

	return p
}

// AskPIN reports whether a PIN supplied to C_Login is relayed into the local
// authentication subsystem; when true, C_GetTokenInfo clears the
// protected-authentication-path flag, and when false it sets it.
func (p *Preferences) AskPIN() bool { return p.askPIN }

// KeychainCertSlot returns the configured value; any nonzero value enables
// the certificate slot, which always sits at the registry's fixed
// certificate-slot index rather than at this value.
func (p *Preferences) KeychainCertSlot() int { return p.keychainCertSlot }

// CertificateList returns the configured substring allow-list for which
// trust-store certificates are surfaced, or nil when every certificate the
// scanner finds should be surfaced.
func (p *Preferences) CertificateList() []string { return p.certificateList }

func envSet(key string) bool {
	return strings.TrimSpace(os.Getenv(key)) != ""
}

func envBool(key string, defaultValue bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return defaultValue
	}
}

func envInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
