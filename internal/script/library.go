package script

import (
	"sort"
	"sync"
)

// Library holds installed scripts as templates. Templates are never delivered
// directly: each navigation keys its own copy with New.
type Library struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Descriptor
}

// NewLibrary creates an empty library
func NewLibrary() *Library {
	return &Library{byID: make(map[string]*Descriptor)}
}

// Add stores d, replacing a script with the same id in place
func (l *Library) Add(d *Descriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[d.ID]; !ok {
		l.order = append(l.order, d.ID)
	}
	l.byID[d.ID] = d
}

// Script returns the template for id
func (l *Library) Script(id string) (*Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.byID[id]
	return d, ok
}

// All returns every template in installation order
func (l *Library) All() []*Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Descriptor, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// Len returns the number of installed scripts
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// IDs returns the installed ids sorted
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := append([]string(nil), l.order...)
	sort.Strings(ids)
	return ids
}

// Matching returns fresh copies of the templates whose patterns accept
// pageURL, in installation order. Copies carry no key yet.
func (l *Library) Matching(pageURL string) []*Descriptor {
	var out []*Descriptor
	for _, d := range l.All() {
		if !d.Meta.Matches(pageURL) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out
}

// Clone returns a deep copy of d
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Meta.Grant = append([]string(nil), d.Meta.Grant...)
	c.Meta.Include = append([]string(nil), d.Meta.Include...)
	c.Meta.Match = append([]string(nil), d.Meta.Match...)
	c.Meta.Exclude = append([]string(nil), d.Meta.Exclude...)
	c.Meta.Require = append([]string(nil), d.Meta.Require...)
	if d.PathMap != nil {
		c.PathMap = make(map[string]string, len(d.PathMap))
		for k, v := range d.PathMap {
			c.PathMap[k] = v
		}
	}
	return &c
}
