package diagnostics

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Level is an entry severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) priority() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return -1
	}
}

// Entry types
const (
	TypeUserscript = "userscript"
	TypeRuntime    = "runtime"
	TypeCommand    = "command"
)

// Entry is one log record
type Entry struct {
	ID      int64          `json:"id"`
	At      time.Time      `json:"ts"`
	Level   Level          `json:"level"`
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Details map[string]any `json:"details,omitempty"`
}

// Filter selects entries. Zero fields match everything; Limit keeps the
// newest entries.
type Filter struct {
	Event string    `form:"event" json:"event,omitempty"`
	Level Level     `form:"level" json:"level,omitempty"`
	Type  string    `form:"type" json:"type,omitempty"`
	Since time.Time `form:"since" json:"since,omitempty"`
	Limit int       `form:"limit" json:"limit,omitempty"`
}

// Accepts reports whether e passes every set field of f. Limit is not
// considered.
func (f Filter) Accepts(e Entry) bool {
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Level != "" && e.Level.priority() < f.Level.priority() {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	return true
}

// Stats counts entries by event, level and type
type Stats struct {
	Total   int            `json:"total"`
	ByEvent map[string]int `json:"by_event"`
	ByLevel map[Level]int  `json:"by_level"`
	ByType  map[string]int `json:"by_type"`
}

func computeStats(entries []Entry) Stats {
	s := Stats{
		Total:   len(entries),
		ByEvent: make(map[string]int),
		ByLevel: make(map[Level]int),
		ByType:  make(map[string]int),
	}
	for _, e := range entries {
		s.ByEvent[e.Event]++
		s.ByLevel[e.Level]++
		s.ByType[e.Type]++
	}
	return s
}

// Meta describes the log a snapshot was taken from
type Meta struct {
	GeneratedAt time.Time `json:"generated_at"`
	MaxEntries  int       `json:"max_entries"`
	Stored      int       `json:"stored"`
	Dropped     int       `json:"dropped"`
	Returned    int       `json:"returned"`
}

// Log is a filtered snapshot
type Log struct {
	Meta    Meta    `json:"meta"`
	Entries []Entry `json:"entries"`
	Stats   Stats   `json:"stats"`
}

const (
	maxStringLen = 400
	maxDepth     = 4
	redacted     = "[Redacted]"
)

var (
	sensitiveKeyRE = regexp.MustCompile(`(?i)(?:token|authorization|password|secret|cookie|api[_-]?key)`)
	stripTags      = bluemonday.StrictPolicy()
)

// plainText strips markup from page-controlled text and clips it
func plainText(s string) string {
	return clip(html.UnescapeString(stripTags.Sanitize(s)))
}

func clip(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return s[:maxStringLen] + "..."
}

// sanitizeDetails clips strings and redacts values under sensitive keys
func sanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out, _ := sanitizeValue("", details, 0).(map[string]any)
	return out
}

func sanitizeValue(key string, v any, depth int) any {
	if key != "" && sensitiveKeyRE.MatchString(key) {
		return redacted
	}
	if depth > maxDepth {
		return "[Truncated]"
	}
	switch t := v.(type) {
	case string:
		return clip(t)
	case error:
		return clip(t.Error())
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = sanitizeValue(k, val, depth+1)
		}
		return m
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = sanitizeValue(k, val, depth+1)
		}
		return m
	case []string:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = clip(val)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = sanitizeValue("", val, depth+1)
		}
		return s
	default:
		return v
	}
}

// exportTags summarize an entry set for the export envelope
func exportTags(entries []Entry, source string) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, e := range entries {
		switch {
		case e.Type == TypeCommand:
			add("command")
		case strings.HasPrefix(e.Event, "userscript."):
			add("userscript")
		default:
			add("runtime")
		}
		if e.Level == LevelError {
			add("error")
		}
	}
	if source != "" {
		add("source:" + source)
	}
	return tags
}
