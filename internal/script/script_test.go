package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScript = `// ==UserScript==
// @name        Dark mode
// @namespace   example
// @match       https://*.example.com/*
// @exclude     https://admin.example.com/*
// @run-at      document-start
// @inject-into page
// @grant       GM_addStyle
// @grant       GM_getValue
// ==/UserScript==
document.documentElement.classList.add('dark');
`

func TestParseMeta(t *testing.T) {
	meta, err := ParseMeta(sampleScript)
	require.NoError(t, err)

	assert.Equal(t, "Dark mode", meta.Name)
	assert.Equal(t, "example", meta.Namespace)
	assert.Equal(t, RunStart, meta.RunAt)
	assert.Equal(t, RealmPage, meta.InjectInto)
	assert.Equal(t, []string{"GM_addStyle", "GM_getValue"}, meta.Grant)
	assert.False(t, meta.Grantless())
	assert.False(t, meta.Unwrap)
}

func TestParseMetaDefaults(t *testing.T) {
	meta, err := ParseMeta("// ==UserScript==\n// @name x\n// @grant none\n// @unwrap\n// ==/UserScript==\n")
	require.NoError(t, err)

	assert.Equal(t, RunEnd, meta.RunAt)
	assert.Equal(t, RealmAuto, meta.InjectInto)
	assert.True(t, meta.Grantless())
	assert.True(t, meta.Unwrap)
}

func TestParseMetaMissingBlock(t *testing.T) {
	_, err := ParseMeta("console.log(1)")
	assert.ErrorIs(t, err, ErrNoMetaBlock)

	_, err = ParseMeta("// ==UserScript==\n// @name unterminated\n")
	assert.ErrorIs(t, err, ErrNoMetaBlock)
}

func TestParseRunAtAndRealm(t *testing.T) {
	tests := []struct {
		in   string
		want RunAt
	}{
		{"document-start", RunStart},
		{"document_start", RunStart},
		{"document-body", RunBody},
		{"document-end", RunEnd},
		{"document-idle", RunIdle},
		{"whenever", RunEnd},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRunAt(tt.in), tt.in)
	}

	assert.Equal(t, RealmPage, ParseRealm("page"))
	assert.Equal(t, RealmContent, ParseRealm("content"))
	assert.Equal(t, RealmAuto, ParseRealm("auto"))
	assert.Equal(t, RealmAuto, ParseRealm(""))
}

func TestMatches(t *testing.T) {
	meta, err := ParseMeta(sampleScript)
	require.NoError(t, err)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.example.com/page", true},
		{"https://example.com/", true},
		{"https://admin.example.com/users", false},
		{"http://www.example.com/page", false},
		{"https://example.org/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, meta.Matches(tt.url), tt.url)
	}

	include := Meta{Include: []string{"*://news.site/*"}}
	assert.True(t, include.Matches("https://news.site/today"))
	assert.False(t, include.Matches("https://other.site/"))

	assert.True(t, Meta{}.Matches("https://anything.test/"))
}

func TestKeyIsSaltedAndContentAddressed(t *testing.T) {
	a := NewKey([]byte("salt-a"), "code")
	b := NewKey([]byte("salt-a"), "code")
	c := NewKey([]byte("salt-b"), "code")
	d := NewKey([]byte("salt-a"), "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "vm"))
}

func TestWrappedSource(t *testing.T) {
	d := New("1", Meta{Require: []string{"lib.js", "missing.js"}}, "main()", map[string]string{"lib.js": "function main(){}"}, []byte("s"))

	src := d.WrappedSource()
	assert.True(t, strings.HasPrefix(src, `window["`+d.Key+`"](function(){`))
	assert.Contains(t, src, "function main(){}")
	assert.Contains(t, src, "main()")

	d.Meta.Unwrap = true
	assert.Equal(t, d.Source(), d.WrappedSource())
	assert.Equal(t, "1", d.DisplayName())
}
