// Package buildinfo carries the version fields a Cryptoki C_GetInfo call
// reports: manufacturer ID, library description, and major/minor version
// pairs. The string fields can be set by -ldflags at build time; the
// version pairs are constants.
package buildinfo

import "fmt"

// Build information, overridable via -ldflags at compile time.
var (
	Version     = "1.0"
	GitCommit   = "unknown"
	BuildTime   = "unknown"
	LibraryDesc = "NRL CMF Host Cryptoki Bridge"
	Manufacturer = "Naval Research Laboratory"
)

// Major and Minor are the CK_VERSION fields C_GetInfo reports for
// cryptokiVersion and libraryVersion. Cryptoki v2.40 conformance pins
// cryptokiVersion; libraryVersion tracks this module's own release.
const (
	CryptokiMajor = 2
	CryptokiMinor = 40

	LibraryMajor = 1
	LibraryMinor = 0
)

// FullVersion returns a human-readable string for diagnostic logging.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// PaddedString pads s with trailing spaces (no NUL terminator) to length n,
// truncating if s is already longer — the fixed-width string convention
// CK_SLOT_INFO, CK_TOKEN_INFO and CK_INFO fields all use.
func PaddedString(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}
