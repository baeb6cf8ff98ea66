package preinject

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

func newLibrary() *script.Library {
	lib := script.NewLibrary()
	lib.Add(&script.Descriptor{ID: "start", Code: "s", Meta: script.Meta{RunAt: script.RunStart}})
	lib.Add(&script.Descriptor{ID: "body", Code: "b", Meta: script.Meta{RunAt: script.RunBody}})
	lib.Add(&script.Descriptor{ID: "end", Code: "e", Meta: script.Meta{RunAt: script.RunEnd}})
	lib.Add(&script.Descriptor{ID: "elsewhere", Code: "x", Meta: script.Meta{Match: []string{"https://other.org/*"}}})
	return lib
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/a/b?c=1", "https://example.com"},
		{"http://example.com:8080/", "http://example.com:8080"},
		{"about:blank", "about:blank"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Origin(tt.in), tt.in)
	}
}

func TestObserveHeadersCachesByOrigin(t *testing.T) {
	svc := New(nil, 0, nil)
	h := http.Header{}
	h.Add("Content-Security-Policy", "script-src 'self' 'nonce-abc123'")

	d := svc.ObserveHeaders("https://example.com/page", h)
	assert.Equal(t, csp.Decision{Kind: csp.Nonce, Nonce: "abc123"}, d)

	assert.Equal(t, d, svc.Hint("https://example.com/other").CSP)
	assert.Equal(t, csp.Decision{}, svc.Hint("https://example.org/").CSP)
	assert.Equal(t, 1, svc.Len())
}

func TestPrepareHoldsBackLateScripts(t *testing.T) {
	svc := New(newLibrary(), 0, nil)

	inj := svc.Prepare("https://example.com/")
	require.True(t, inj.More)
	require.NotEmpty(t, inj.Token)
	var ids []string
	for _, d := range inj.Scripts {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"start", "body"}, ids)

	more, err := svc.Feedback(Feedback{URL: "https://example.com/", Token: inj.Token, More: true})
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, "end", more[0].ID)

	// the remainder is handed out once
	_, err = svc.Feedback(Feedback{URL: "https://example.com/", Token: inj.Token, More: true})
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestPrepareWithoutRemainder(t *testing.T) {
	lib := script.NewLibrary()
	lib.Add(&script.Descriptor{ID: "start", Code: "s", Meta: script.Meta{RunAt: script.RunStart}})
	inj := New(lib, 0, nil).Prepare("https://example.com/")
	assert.False(t, inj.More)
	assert.Empty(t, inj.Token)
	assert.Len(t, inj.Scripts, 1)
}

func TestFeedbackUpdatesHint(t *testing.T) {
	svc := New(nil, 0, nil)
	_, err := svc.Feedback(Feedback{
		URL:           "https://example.com/a",
		ForceIsolated: true,
		Isolated:      []script.IDKey{{ID: "1", Key: "vm1"}},
	})
	require.NoError(t, err)

	hint := svc.Hint("https://example.com/b")
	assert.True(t, hint.ForceIsolated)
	assert.Equal(t, map[string]script.Realm{"1": script.RealmContent}, hint.Expected)

	// callers get a copy
	hint.Expected["2"] = script.RealmPage
	assert.Len(t, svc.Hint("https://example.com/").Expected, 1)
}

func TestFirstFeedbackReplacesExpectedRealms(t *testing.T) {
	svc := New(nil, 0, nil)
	const u = "https://example.com/"

	// first navigation: a is isolated, b joins it in a later round
	_, err := svc.Feedback(Feedback{URL: u, First: true, Isolated: []script.IDKey{{ID: "a", Key: "k1"}}})
	require.NoError(t, err)
	_, err = svc.Feedback(Feedback{URL: u, Isolated: []script.IDKey{{ID: "b", Key: "k2"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]script.Realm{"a": script.RealmContent, "b": script.RealmContent}, svc.Hint(u).Expected)

	// second navigation delivered everything to the page
	_, err = svc.Feedback(Feedback{URL: u, First: true})
	require.NoError(t, err)
	hint := svc.Hint(u)
	assert.Empty(t, hint.Expected)
	assert.False(t, hint.ForceIsolated)

	// third navigation isolates b only
	_, err = svc.Feedback(Feedback{URL: u, First: true, Isolated: []script.IDKey{{ID: "b", Key: "k3"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]script.Realm{"b": script.RealmContent}, svc.Hint(u).Expected)
}

func TestHintCacheEvictsOldestOrigin(t *testing.T) {
	svc := New(nil, 2, nil)
	for _, u := range []string{"https://a.test/", "https://b.test/", "https://c.test/"} {
		_, _ = svc.Feedback(Feedback{URL: u, ForceIsolated: true})
	}
	assert.Equal(t, 2, svc.Len())
	assert.False(t, svc.Hint("https://a.test/").ForceIsolated)
	assert.True(t, svc.Hint("https://c.test/").ForceIsolated)
}
