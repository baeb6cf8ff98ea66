// Package script defines the script descriptor delivered by the injection core.
package script

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Realm is an execution context a script can be delivered into
type Realm int

const (
	RealmAuto Realm = iota
	RealmPage
	RealmContent
)

func (r Realm) String() string {
	switch r {
	case RealmPage:
		return "page"
	case RealmContent:
		return "content"
	default:
		return "auto"
	}
}

// ParseRealm reads an @inject-into value. Unknown values mean auto.
func ParseRealm(s string) Realm {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "page":
		return RealmPage
	case "content", "isolated":
		return RealmContent
	default:
		return RealmAuto
	}
}

// MarshalText implements encoding.TextMarshaler
func (r Realm) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Realm) UnmarshalText(b []byte) error {
	*r = ParseRealm(string(b))
	return nil
}

// RunAt is a document lifecycle injection point. Values are ordered.
type RunAt int

const (
	RunStart RunAt = iota
	RunBody
	RunEnd
	RunIdle
)

// RunPhases lists the lifecycle points in delivery order
var RunPhases = []RunAt{RunStart, RunBody, RunEnd, RunIdle}

func (r RunAt) String() string {
	switch r {
	case RunStart:
		return "start"
	case RunBody:
		return "body"
	case RunEnd:
		return "end"
	case RunIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// ParseRunAt reads an @run-at value ("document-start", "document_end", "idle", ...).
// Unknown values default to document-end.
func ParseRunAt(s string) RunAt {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(strings.TrimPrefix(v, "document-"), "document_")
	switch v {
	case "start":
		return RunStart
	case "body":
		return RunBody
	case "idle":
		return RunIdle
	default:
		return RunEnd
	}
}

// MarshalText implements encoding.TextMarshaler
func (r RunAt) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (r *RunAt) UnmarshalText(b []byte) error {
	*r = ParseRunAt(string(b))
	return nil
}

// Meta is the declared metadata of a script
type Meta struct {
	Name       string   `json:"name" yaml:"name"`
	Namespace  string   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	InjectInto Realm    `json:"inject_into" yaml:"inject_into"`
	RunAt      RunAt    `json:"run_at" yaml:"run_at"`
	Grant      []string `json:"grant,omitempty" yaml:"grant,omitempty"`
	Unwrap     bool     `json:"unwrap,omitempty" yaml:"unwrap,omitempty"`
	Include    []string `json:"include,omitempty" yaml:"include,omitempty"`
	Match      []string `json:"match,omitempty" yaml:"match,omitempty"`
	Exclude    []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Require    []string `json:"require,omitempty" yaml:"require,omitempty"`
}

// Grantless reports whether the script requested no capability grants
func (m Meta) Grantless() bool {
	for _, g := range m.Grant {
		if g != "" && g != "none" {
			return false
		}
	}
	return true
}

// Descriptor is one resolved script for one navigation
type Descriptor struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Meta Meta   `json:"meta"`
	// Code is cleared right after physical injection.
	Code string `json:"code,omitempty"`
	// PathMap maps dependency URLs to their code.
	PathMap map[string]string `json:"path_map,omitempty"`
}

// DisplayName is the name shown in diagnostics
func (d *Descriptor) DisplayName() string {
	if d.Meta.Name != "" {
		return d.Meta.Name
	}
	return d.ID
}

// Dependencies returns the @require code in declaration order, skipping
// entries missing from PathMap.
func (d *Descriptor) Dependencies() []string {
	var out []string
	for _, url := range d.Meta.Require {
		if code, ok := d.PathMap[url]; ok {
			out = append(out, code)
		}
	}
	return out
}

// NewKey derives the content-addressed key a wrapped script calls back
// through. The per-navigation salt keeps it unguessable to the page.
func NewKey(salt []byte, code string) string {
	h := blake3.New()
	_, _ = h.Write(salt)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(code))
	sum := h.Sum(nil)
	return "vm" + hex.EncodeToString(sum[:12])
}

// New builds a descriptor, keying it with salt. Dependencies are prepended to
// the code the way the page would see them.
func New(id string, meta Meta, code string, pathMap map[string]string, salt []byte) *Descriptor {
	d := &Descriptor{
		ID:      id,
		Meta:    meta,
		Code:    code,
		PathMap: pathMap,
	}
	d.Key = NewKey(salt, code)
	return d
}

// Source joins dependencies and the script's own code
func (d *Descriptor) Source() string {
	deps := d.Dependencies()
	if len(deps) == 0 {
		return d.Code
	}
	return strings.Join(deps, "\n;\n") + "\n;\n" + d.Code
}

// WrappedSource returns the code placed in the page for a wrapped script:
// the source is handed to the one-shot function planted under Key, which
// records the start signal before running it. Unwrapped scripts run raw.
func (d *Descriptor) WrappedSource() string {
	if d.Meta.Unwrap {
		return d.Source()
	}
	return fmt.Sprintf("window[%q](function(){\n%s\n});", d.Key, d.Source())
}

// IDKey is the (id, key) pair sent in feedback messages
type IDKey struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}
