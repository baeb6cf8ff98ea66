package script

import (
	"bufio"
	"errors"
	"regexp"
	"strings"
)

var (
	ErrNoMetaBlock = errors.New("no ==UserScript== metadata block")

	metaLineRE = regexp.MustCompile(`^//\s*@(\S+)(?:\s+(.*))?$`)
)

const (
	metaStart = "==UserScript=="
	metaEnd   = "==/UserScript=="
)

// ParseMeta reads the // ==UserScript== block at the top of code.
// Unknown keys are ignored; missing @run-at means document-end and missing
// @inject-into means auto.
func ParseMeta(code string) (Meta, error) {
	meta := Meta{RunAt: RunEnd, InjectInto: RealmAuto}

	sc := bufio.NewScanner(strings.NewReader(code))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inBlock, closed := false, false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inBlock {
			if strings.HasPrefix(line, "//") && strings.Contains(line, metaStart) {
				inBlock = true
			}
			continue
		}
		if strings.HasPrefix(line, "//") && strings.Contains(line, metaEnd) {
			closed = true
			break
		}
		m := metaLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		applyMeta(&meta, m[1], strings.TrimSpace(m[2]))
	}
	if err := sc.Err(); err != nil {
		return meta, err
	}
	if !inBlock || !closed {
		return meta, ErrNoMetaBlock
	}
	return meta, nil
}

func applyMeta(meta *Meta, key, value string) {
	switch strings.ToLower(key) {
	case "name":
		if meta.Name == "" {
			meta.Name = value
		}
	case "namespace":
		meta.Namespace = value
	case "run-at":
		meta.RunAt = ParseRunAt(value)
	case "inject-into":
		meta.InjectInto = ParseRealm(value)
	case "grant":
		meta.Grant = append(meta.Grant, value)
	case "unwrap":
		meta.Unwrap = true
	case "include":
		meta.Include = append(meta.Include, value)
	case "match":
		meta.Match = append(meta.Match, value)
	case "exclude", "exclude-match":
		meta.Exclude = append(meta.Exclude, value)
	case "require":
		meta.Require = append(meta.Require, value)
	}
}
