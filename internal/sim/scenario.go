package sim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/executor"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// ErrNoSteps is returned for a scenario without navigations
var ErrNoSteps = errors.New("scenario has no navigations")

// Scenario is one replay file
type Scenario struct {
	// Scripts is a directory of *.user.js files, relative to the scenario
	Scripts    string `json:"scripts" yaml:"scripts" toml:"scripts"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty" toml:"pattern"`
	Generation string `json:"generation" yaml:"generation" toml:"generation"`
	Family     string `json:"family" yaml:"family" toml:"family"`
	Steps      []Step `json:"navigations" yaml:"navigations" toml:"navigation"`
}

// Step is one navigation and what to do with it afterwards
type Step struct {
	app.NavigationRequest `yaml:",inline"`

	// Fetch loads the document from URL instead of HTML
	Fetch     bool       `json:"fetch,omitempty" yaml:"fetch,omitempty" toml:"fetch"`
	AdvanceMS int        `json:"advance_ms,omitempty" yaml:"advance_ms,omitempty" toml:"advance_ms"`
	Execute   []ExecStep `json:"execute,omitempty" yaml:"execute,omitempty" toml:"execute"`
	// Reloads loads the document again this many times after Execute, so
	// registered one-shots get a document to run in
	Reloads int `json:"reloads,omitempty" yaml:"reloads,omitempty" toml:"reloads"`
}

// ExecStep is a privileged execution run in the step's tab
type ExecStep struct {
	Code           string       `json:"code,omitempty" yaml:"code,omitempty" toml:"code"`
	File           string       `json:"file,omitempty" yaml:"file,omitempty" toml:"file"`
	FrameID        int          `json:"frame_id,omitempty" yaml:"frame_id,omitempty" toml:"frame_id"`
	AllFrames      bool         `json:"all_frames,omitempty" yaml:"all_frames,omitempty" toml:"all_frames"`
	RunAt          script.RunAt `json:"run_at" yaml:"run_at" toml:"run_at"`
	TryUserScripts bool         `json:"try_user_scripts,omitempty" yaml:"try_user_scripts,omitempty" toml:"try_user_scripts"`
	PreferRegister bool         `json:"prefer_register,omitempty" yaml:"prefer_register,omitempty" toml:"prefer_register"`
	AllowLegacy    *bool        `json:"allow_legacy,omitempty" yaml:"allow_legacy,omitempty" toml:"allow_legacy"`
}

// Request converts s to an executor request
func (s ExecStep) Request() executor.Request {
	return executor.Request{
		Code:           s.Code,
		File:           s.File,
		FrameID:        s.FrameID,
		AllFrames:      s.AllFrames,
		RunAt:          s.RunAt,
		TryUserScripts: s.TryUserScripts,
		PreferRegister: s.PreferRegister,
		AllowLegacy:    s.AllowLegacy,
	}
}

// LoadScenario reads a scenario file. The format follows the extension:
// .toml, .yaml or .yml, and .json. A relative Scripts directory is resolved
// against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Scripts != "" && !filepath.IsAbs(sc.Scripts) {
		sc.Scripts = filepath.Join(filepath.Dir(path), sc.Scripts)
	}
	return sc, nil
}

// ParseScenario decodes data in the format named by ext
func ParseScenario(data []byte, ext string) (*Scenario, error) {
	var sc Scenario
	var err error
	switch strings.ToLower(ext) {
	case ".toml":
		err = toml.Unmarshal(data, &sc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &sc)
	case ".json":
		err = sonic.ConfigStd.Unmarshal(data, &sc)
	default:
		return nil, fmt.Errorf("unsupported scenario format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, ErrNoSteps
	}
	for i, st := range sc.Steps {
		if st.URL == "" {
			return nil, fmt.Errorf("navigation %d: url is required", i)
		}
	}
	return &sc, nil
}
