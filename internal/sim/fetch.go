package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/injectcore/internal/infrastructure/httpclient"
)

// maxDocument bounds a fetched document
const maxDocument = 4 * 1024 * 1024

// Document is a fetched response
type Document struct {
	URL         string
	HTML        string
	ContentType string
	Headers     map[string]string
	Charset     string
}

// Fetch downloads pageURL and decodes it to UTF-8. The declared charset is
// used when there is one, otherwise it is detected from the bytes.
func Fetch(ctx context.Context, client *httpclient.Client, pageURL string) (*Document, error) {
	resp, err := client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Accept", "text/html,application/xhtml+xml").Get(pageURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: %s", pageURL, resp.Status())
	}
	body := resp.Body()
	if len(body) > maxDocument {
		return nil, fmt.Errorf("fetch %s: document exceeds %d bytes", pageURL, maxDocument)
	}

	doc := &Document{
		URL:         resp.Request.URL,
		ContentType: resp.Header().Get("Content-Type"),
		Headers:     make(map[string]string),
	}
	for k := range resp.Header() {
		doc.Headers[k] = resp.Header().Get(k)
	}
	html, cs, err := DecodeHTML(body, doc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	doc.HTML, doc.Charset = html, cs
	return doc, nil
}

// DetectCharset detects the charset of data, defaulting to utf-8
func DetectCharset(data []byte) string {
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// DecodeHTML converts data to UTF-8 and returns the charset it used
func DecodeHTML(data []byte, contentType string) (string, string, error) {
	cs := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		cs = strings.ToLower(params["charset"])
	}
	if cs == "" {
		cs = DetectCharset(data)
	}
	r, err := charset.NewReaderLabel(cs, bytes.NewReader(data))
	if err != nil {
		return string(data), "utf-8", nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", cs, fmt.Errorf("decode %s: %w", cs, err)
	}
	return string(out), cs, nil
}
