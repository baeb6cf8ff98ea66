package http

import (
	"fmt"
	"net/url"
	"regexp"
)

// Request size limits (in bytes)
const (
	MaxHTMLSize = 4 * 1024 * 1024
	MaxCodeSize = 1 * 1024 * 1024
	MaxIDLength = 128
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

// ValidateID checks a navigation or script id taken from a path or body
func ValidateID(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s exceeds %d characters", field, MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}

// ValidatePageURL checks the URL a navigation is simulated at
func ValidatePageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" && u.Scheme != "file" {
		return fmt.Errorf("url must be absolute: %q", raw)
	}
	return nil
}

// ValidateSize checks a text field against its limit
func ValidateSize(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s size %d bytes exceeds maximum %d bytes", field, len(value), max)
	}
	return nil
}
