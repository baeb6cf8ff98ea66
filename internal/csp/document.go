package csp

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MetaPolicy returns the content of the last <meta http-equiv=
// "Content-Security-Policy"> element in doc, or "" when there is none. The
// attribute name is matched case-insensitively as browsers do.
func MetaPolicy(doc *html.Node) string {
	if doc == nil {
		return ""
	}
	var policy string
	goquery.NewDocumentFromNode(doc).Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("http-equiv", "")), headerName) {
			return
		}
		if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
			policy = content
		}
	})
	return policy
}

// PageNonce returns the nonce carried by the first script, style or link
// element of doc. Pages that use nonces put the same one on every element, so
// borrowing it works when the response header was not observable.
func PageNonce(doc *html.Node) string {
	if doc == nil {
		return ""
	}
	var nonce string
	goquery.NewDocumentFromNode(doc).Find("script[nonce], style[nonce], link[nonce]").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			nonce = strings.TrimSpace(s.AttrOr("nonce", ""))
			return nonce == ""
		})
	return nonce
}
