package diagnostics

import (
	"errors"
	"fmt"

	"github.com/dop251/goja/parser"

	"github.com/GriffinCanCode/injectcore/internal/script"
)

// Classification of a stalled script
type Classification string

const (
	ClassSyntaxError      Classification = "syntax-error"
	ClassBootstrapBlocked Classification = "bootstrap-blocked"
	ClassStartupStalled   Classification = "startup-stalled"
)

// Event is the log event name of the classification
func (c Classification) Event() string {
	switch c {
	case ClassSyntaxError:
		return "userscript.syntax.error"
	case ClassBootstrapBlocked:
		return "userscript.bootstrap.blocked"
	default:
		return "userscript.startup.stalled"
	}
}

// DefaultReason is used when the reporter gave none
func (c Classification) DefaultReason() string {
	switch c {
	case ClassSyntaxError:
		return "Script has a syntax error and could not execute."
	case ClassBootstrapBlocked:
		return "Script passed syntax parsing but was blocked before bootstrap."
	default:
		return "Script stayed in injecting state and did not report a start signal."
	}
}

const syntaxPassedSummary = "Syntax parse passed; startup likely blocked by CSP, realm, or injection constraints."

// SyntaxCheck is the result of parsing a script and its requires
type SyntaxCheck struct {
	Checked bool   `json:"checked"`
	OK      bool   `json:"ok"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message,omitempty"`
	Summary string `json:"summary"`
}

// HasPosition reports whether the parser located the error
func (p SyntaxCheck) HasPosition() bool {
	return p.Line > 0 && p.Column > 0
}

// Classify maps a syntax check to a classification
func (p SyntaxCheck) Classify() Classification {
	switch {
	case p.Checked && !p.OK && p.HasPosition():
		return ClassSyntaxError
	case p.Checked && p.OK:
		return ClassBootstrapBlocked
	default:
		return ClassStartupStalled
	}
}

// CheckSyntax parses each @require in declaration order, then the script itself,
// and reports the first failure.
func CheckSyntax(d *script.Descriptor) SyntaxCheck {
	if d == nil || d.Code == "" {
		return SyntaxCheck{Summary: "Script source unavailable; syntax was not checked."}
	}
	for _, url := range d.Meta.Require {
		code, ok := d.PathMap[url]
		if !ok {
			continue
		}
		if p, failed := parseOne(url, code); failed {
			return p
		}
	}
	if p, failed := parseOne("main", d.Code); failed {
		return p
	}
	return SyntaxCheck{Checked: true, OK: true, Summary: syntaxPassedSummary}
}

// parseOne parses code the way the script wrapper sees it: as a function body.
func parseOne(source, code string) (SyntaxCheck, bool) {
	_, err := parser.ParseFile(nil, source, "(function(){\n"+code+"\n})", 0)
	if err == nil {
		return SyntaxCheck{}, false
	}

	p := SyntaxCheck{Checked: true, Source: source, Message: err.Error()}
	var list parser.ErrorList
	var single *parser.Error
	switch {
	case errors.As(err, &list) && len(list) > 0:
		p.Line, p.Column, p.Message = list[0].Position.Line-1, list[0].Position.Column, list[0].Message
	case errors.As(err, &single):
		p.Line, p.Column, p.Message = single.Position.Line-1, single.Position.Column, single.Message
	}
	if p.Line < 1 {
		p.Line = 1
	}
	p.Summary = fmt.Sprintf("Syntax error in %s at line %d, column %d: %s", source, p.Line, p.Column, p.Message)
	return p, true
}
