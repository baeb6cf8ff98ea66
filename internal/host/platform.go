// Package host describes the browser surface the injection core runs against.
//
// Nothing in this package talks to a real browser. It names the platform
// capability flags and the narrow interfaces the content side needs from the
// document and window it is injecting into. internal/host/sandbox provides an
// implementation backed by goja realms for tests, the API server and the CLI.
package host

import (
	"fmt"
	"strings"
)

// Generation is the extension platform generation
type Generation int

const (
	// GenerationPermissive allows blocking interception and string evaluation
	GenerationPermissive Generation = iota
	// GenerationRestrictive forbids both
	GenerationRestrictive
)

func (g Generation) String() string {
	switch g {
	case GenerationPermissive:
		return "permissive"
	case GenerationRestrictive:
		return "restrictive"
	default:
		return "unknown"
	}
}

// ManifestVersion maps the generation to the manifest version it ships as
func (g Generation) ManifestVersion() int {
	if g == GenerationRestrictive {
		return 3
	}
	return 2
}

// Family is the browser engine family
type Family int

const (
	FamilyChromium Family = iota
	FamilyFirefox
)

func (f Family) String() string {
	switch f {
	case FamilyChromium:
		return "chromium"
	case FamilyFirefox:
		return "firefox"
	default:
		return "unknown"
	}
}

// Platform is the static capability surface for one extension build
type Platform struct {
	Generation Generation
	Family     Family
}

// SandboxRejectsInline reports whether the sandboxed bootstrap frame refuses
// inline script outright. True on restrictive Chromium builds, where the vault
// handshake must never be attempted.
func (p Platform) SandboxRejectsInline() bool {
	return p.Generation == GenerationRestrictive && p.Family == FamilyChromium
}

// Restrictive reports whether string-to-code evaluation is forbidden
func (p Platform) Restrictive() bool {
	return p.Generation == GenerationRestrictive
}

func (p Platform) String() string {
	return p.Family.String() + "/" + p.Generation.String()
}

// ParseGeneration accepts "permissive", "restrictive", "mv2" or "mv3"
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permissive", "mv2", "2":
		return GenerationPermissive, nil
	case "restrictive", "mv3", "3":
		return GenerationRestrictive, nil
	default:
		return GenerationPermissive, fmt.Errorf("unknown platform generation %q", s)
	}
}

// ParseFamily accepts "chromium"/"chrome" or "firefox"/"gecko"
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chromium", "chrome", "edge", "opera":
		return FamilyChromium, nil
	case "firefox", "gecko":
		return FamilyFirefox, nil
	default:
		return FamilyChromium, fmt.Errorf("unknown browser family %q", s)
	}
}

// ParsePlatform combines ParseGeneration and ParseFamily
func ParsePlatform(generation, family string) (Platform, error) {
	g, err := ParseGeneration(generation)
	if err != nil {
		return Platform{}, err
	}
	f, err := ParseFamily(family)
	if err != nil {
		return Platform{}, err
	}
	return Platform{Generation: g, Family: f}, nil
}
