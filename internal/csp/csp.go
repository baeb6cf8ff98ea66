// Package csp maps a Content-Security-Policy to the injection constraint it
// imposes on page-realm script delivery.
package csp

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Kind is the outcome of analyzing a policy
type Kind int

const (
	// Unconstrained means inline page-realm delivery is allowed
	Unconstrained Kind = iota
	// Nonce means inline delivery works when the element carries Decision.Nonce
	Nonce
	// ForceIsolated means inline delivery would be refused
	ForceIsolated
)

func (k Kind) String() string {
	switch k {
	case Nonce:
		return "nonce"
	case ForceIsolated:
		return "force-isolated"
	default:
		return "unconstrained"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "nonce":
		*k = Nonce
	case "force-isolated":
		*k = ForceIsolated
	case "unconstrained", "":
		*k = Unconstrained
	default:
		return fmt.Errorf("csp: unknown decision kind %q", text)
	}
	return nil
}

// Decision is the injection constraint derived from one policy
type Decision struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Nonce string `json:"nonce,omitempty" yaml:"nonce,omitempty"`
}

// Unconstrained reports whether the decision places no restriction
func (d Decision) Unconstrained() bool { return d.Kind == Unconstrained }

// Strict reports whether the decision forces the isolated realm
func (d Decision) Strict() bool { return d.Kind == ForceIsolated }

const (
	unsafeInline = "'unsafe-inline'"
	headerName   = "Content-Security-Policy"
)

var (
	// A directive starts the policy or follows ';' (directive separator) or
	// ',' (policy separator). Group 1 marks -elem, group 2 marks default-src
	// and group 3 is the source list.
	directiveRE = regexp.MustCompile(`(?:^|[;,])\s*(?:script-src(-elem)?|(d)efault-src)(\s+[^;,]+)`)
	nonceRE     = regexp.MustCompile(`'nonce-([-+/=\w]+)'`)
)

// Analyze maps policy to a Decision. Directives are scanned left to right and
// a later occurrence of the same directive replaces an earlier one. A nonce in
// any extracted script-related directive wins outright.
func Analyze(policy string) Decision {
	var (
		scriptSrc, scriptElemSrc, defaultSrc string
		hasScript, hasScriptElem, hasDefault bool
		extracted                            strings.Builder
	)

	for _, m := range directiveRE.FindAllStringSubmatch(policy, -1) {
		extracted.WriteString(m[0])
		switch {
		case m[2] != "":
			defaultSrc, hasDefault = m[3], true
		case m[1] != "":
			scriptElemSrc, hasScriptElem = m[3], true
		default:
			scriptSrc, hasScript = m[3], true
		}
	}
	if extracted.Len() == 0 {
		return Decision{}
	}

	if n := nonceRE.FindStringSubmatch(extracted.String()); n != nil {
		return Decision{Kind: Nonce, Nonce: n[1]}
	}

	restrictive := func(sources string) bool {
		return !strings.Contains(sources, unsafeInline)
	}
	switch {
	case hasScript && restrictive(scriptSrc),
		hasScriptElem && restrictive(scriptElemSrc),
		!hasScript && !hasScriptElem && hasDefault && restrictive(defaultSrc):
		return Decision{Kind: ForceIsolated}
	}
	return Decision{}
}

// FromHeaders analyzes every Content-Security-Policy header of a response.
// Multiple headers are joined with ',' which is how the platform presents
// several policies in one value.
func FromHeaders(h http.Header) Decision {
	values := h.Values(headerName)
	if len(values) == 0 {
		return Decision{}
	}
	return Analyze(strings.Join(values, ","))
}

// IsStrict reports whether policy forces the isolated realm. A policy that
// offers a nonce is never strict.
func IsStrict(policy string) bool {
	return Analyze(policy).Strict()
}
