// Package loader discovers userscripts on disk and installs them into a
// script.Library.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// DefaultPattern selects userscript files below the root
const DefaultPattern = "**/*.user.js"

// MaxFileSize bounds a single script or dependency file
const MaxFileSize = 4 << 20

var ErrTooLarge = errors.New("script file too large")

// Options configures a load
type Options struct {
	// Pattern is a doublestar glob relative to the root
	Pattern string
	Logger  *zap.Logger
}

// FileError records a file that could not be installed
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e FileError) Unwrap() error { return e.Err }

// Result is the outcome of a load
type Result struct {
	Library *script.Library
	Skipped []FileError
}

// Load walks root and installs every file matching the pattern. Ids are the
// slash-separated path relative to root without the .user.js suffix, and
// files are installed in id order so the library order is stable. Local
// @require paths are resolved next to the script; remote ones are left out of
// the dependency map.
func Load(ctx context.Context, root string, opts Options) (*Result, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid script pattern %q", pattern)
	}
	log := logging.OrNop(opts.Logger).Named("loader")

	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}
		mu.Lock()
		files = append(files, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)

	res := &Result{Library: script.NewLibrary()}
	for _, p := range files {
		d, err := loadFile(root, p)
		if err != nil {
			res.Skipped = append(res.Skipped, FileError{Path: p, Err: err})
			log.Warn("script skipped", zap.String("path", p), zap.Error(err))
			continue
		}
		res.Library.Add(d)
	}
	log.Info("scripts loaded", zap.Int("installed", res.Library.Len()), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func loadFile(root, p string) (*script.Descriptor, error) {
	code, err := readBounded(p)
	if err != nil {
		return nil, err
	}
	meta, err := script.ParseMeta(code)
	if err != nil {
		return nil, err
	}

	rel, _ := filepath.Rel(root, p)
	id := strings.TrimSuffix(filepath.ToSlash(rel), ".user.js")

	var pathMap map[string]string
	for _, req := range meta.Require {
		if strings.Contains(req, "://") {
			continue
		}
		dep, err := readBounded(filepath.Join(filepath.Dir(p), filepath.FromSlash(req)))
		if err != nil {
			return nil, fmt.Errorf("require %s: %w", req, err)
		}
		if pathMap == nil {
			pathMap = make(map[string]string)
		}
		pathMap[req] = dep
	}

	// templates are keyed per navigation; the library copy needs no salt
	return &script.Descriptor{ID: id, Meta: meta, Code: code, PathMap: pathMap}, nil
}

func readBounded(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.Size() > MaxFileSize {
		return "", ErrTooLarge
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
