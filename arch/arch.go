package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Architecture is the user-facing name of a Windows image architecture.
type Architecture string

const (
	X64   Architecture = "x64"
	ARM64 Architecture = "arm64"
)

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{
		X64,
		ARM64,
	}
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	switch a {
	case X64, ARM64:
		return true
	default:
		return false
	}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// CatalogToken returns the architecture token used in catalog search terms.
func (a Architecture) CatalogToken() string {
	switch a {
	case X64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return ""
	}
}

// Parse returns the Architecture named by value. Only the canonical names are
// accepted; case and surrounding space are ignored.
func Parse(value string) (Architecture, error) {
	a := Architecture(strings.ToLower(strings.TrimSpace(value)))
	if !a.IsValid() {
		return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
	}
	return a, nil
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
