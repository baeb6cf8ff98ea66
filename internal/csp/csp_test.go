package csp

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   Decision
	}{
		{
			name:   "nonce in script-src",
			policy: "default-src 'self'; script-src 'self' 'nonce-abc123' https://cdn.example.com",
			want:   Decision{Kind: Nonce, Nonce: "abc123"},
		},
		{
			name:   "script-src without unsafe-inline",
			policy: "script-src 'self' https://cdn.example.com",
			want:   Decision{Kind: ForceIsolated},
		},
		{
			name:   "script-src with unsafe-inline",
			policy: "script-src 'self' 'unsafe-inline'",
			want:   Decision{},
		},
		{
			name:   "default-src fallback",
			policy: "default-src 'self'",
			want:   Decision{Kind: ForceIsolated},
		},
		{
			name:   "default-src with unsafe-inline",
			policy: "default-src 'self' 'unsafe-inline'; img-src *",
			want:   Decision{},
		},
		{
			name:   "no script or default directive",
			policy: "img-src 'self' data:; style-src 'self'",
			want:   Decision{},
		},
		{
			name:   "empty policy",
			policy: "",
			want:   Decision{},
		},
		{
			name:   "script-src strict regardless of permissive default-src",
			policy: "default-src 'unsafe-inline'; script-src 'self'",
			want:   Decision{Kind: ForceIsolated},
		},
		{
			name:   "script-src-elem strict",
			policy: "script-src 'unsafe-inline'; script-src-elem 'self'",
			want:   Decision{Kind: ForceIsolated},
		},
		{
			name:   "later directive overrides earlier",
			policy: "script-src 'self'; script-src 'unsafe-inline'",
			want:   Decision{},
		},
		{
			name:   "nonce in default-src",
			policy: "default-src 'nonce-Zm9v+/=='",
			want:   Decision{Kind: Nonce, Nonce: "Zm9v+/=="},
		},
		{
			name:   "second policy after comma",
			policy: "img-src *, script-src 'self'",
			want:   Decision{Kind: ForceIsolated},
		},
		{
			name:   "nonce in unrelated directive ignored",
			policy: "style-src 'nonce-xyz'; script-src 'self'",
			want:   Decision{Kind: ForceIsolated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Analyze(tt.policy))
		})
	}
}

func TestNonceNeverForcesIsolated(t *testing.T) {
	directives := []string{"script-src", "script-src-elem", "default-src"}
	extras := []string{"", " 'self'", " 'strict-dynamic'", " https://cdn.test"}

	for _, d := range directives {
		for _, extra := range extras {
			policy := "object-src 'none'; " + d + extra + " 'nonce-r4nd0m'" + "; base-uri 'self'"
			got := Analyze(policy)
			assert.Equal(t, Nonce, got.Kind, policy)
			assert.Equal(t, "r4nd0m", got.Nonce, policy)
			assert.False(t, IsStrict(policy), policy)
		}
	}
}

func TestScriptSrcWithoutUnsafeInlineAlwaysStrict(t *testing.T) {
	defaults := []string{"", "default-src *; ", "default-src 'unsafe-inline'; ", "default-src 'self'; "}
	for _, def := range defaults {
		policy := def + "script-src 'self' https://cdn.test"
		assert.True(t, IsStrict(policy), policy)
	}
}

func TestDecisionJSONRoundTrip(t *testing.T) {
	for _, policy := range []string{
		"script-src 'nonce-abc123'",
		"script-src 'self'",
		"img-src *",
	} {
		t.Run(policy, func(t *testing.T) {
			want := Analyze(policy)
			data, err := json.Marshal(want)
			require.NoError(t, err)

			var got Decision
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, want, got)
		})
	}

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("lenient")))
}

func TestFromHeaders(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, Decision{}, FromHeaders(h))

	h.Add("Content-Security-Policy", "img-src *")
	h.Add("Content-Security-Policy", "script-src 'self'")
	assert.Equal(t, Decision{Kind: ForceIsolated}, FromHeaders(h))

	h = http.Header{}
	h.Set("content-security-policy", "script-src 'nonce-n1'")
	assert.Equal(t, Decision{Kind: Nonce, Nonce: "n1"}, FromHeaders(h))
}

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func TestMetaPolicy(t *testing.T) {
	doc := parse(t, `<html><head>
<meta charset="utf-8">
<meta HTTP-EQUIV="content-security-policy" content="script-src 'self'">
</head><body></body></html>`)
	assert.Equal(t, "script-src 'self'", MetaPolicy(doc))
	assert.True(t, IsStrict(MetaPolicy(doc)))

	assert.Equal(t, "", MetaPolicy(parse(t, `<html><head><meta http-equiv="refresh" content="5"></head></html>`)))
	assert.Equal(t, "", MetaPolicy(nil))
}

func TestPageNonce(t *testing.T) {
	doc := parse(t, `<html><head>
<script src="/a.js"></script>
<link rel="stylesheet" href="/s.css" nonce="">
<style nonce="abc123">body{}</style>
</head></html>`)
	assert.Equal(t, "abc123", PageNonce(doc))
	assert.Equal(t, "", PageNonce(parse(t, `<p>no nonce</p>`)))
}
