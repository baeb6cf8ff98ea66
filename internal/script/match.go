package script

import (
	"net/url"
	"regexp"
	"strings"
)

// Matches reports whether the script's @match/@include patterns accept pageURL
// and no @exclude rejects it. A script without patterns matches everything.
func (m Meta) Matches(pageURL string) bool {
	for _, ex := range m.Exclude {
		if globMatch(ex, pageURL) || matchPattern(ex, pageURL) {
			return false
		}
	}
	if len(m.Match) == 0 && len(m.Include) == 0 {
		return true
	}
	for _, p := range m.Match {
		if matchPattern(p, pageURL) {
			return true
		}
	}
	for _, p := range m.Include {
		if globMatch(p, pageURL) {
			return true
		}
	}
	return false
}

// globMatch implements @include globs: * matches any run of characters.
func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	var b strings.Builder
	b.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	re := strings.TrimSuffix(b.String(), ".*") + "$"
	ok, err := regexp.MatchString(re, s)
	return err == nil && ok
}

// matchPattern implements @match patterns: scheme://host/path where scheme may
// be *, host may be * or *.domain, and path is a glob.
func matchPattern(pattern, pageURL string) bool {
	if pattern == "<all_urls>" {
		return true
	}
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return false
	}
	hostPat, pathPat, _ := strings.Cut(rest, "/")
	pathPat = "/" + pathPat

	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	switch scheme {
	case "*":
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
	default:
		if scheme != u.Scheme {
			return false
		}
	}

	host := u.Hostname()
	switch {
	case hostPat == "*":
	case strings.HasPrefix(hostPat, "*."):
		base := hostPat[2:]
		if host != base && !strings.HasSuffix(host, "."+base) {
			return false
		}
	default:
		if !strings.EqualFold(host, hostPat) {
			return false
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return globMatch(pathPat, path)
}
