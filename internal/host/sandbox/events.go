package sandbox

import (
	"sync"

	"github.com/GriffinCanCode/injectcore/internal/host"
)

type listener struct {
	id   host.ListenerID
	fn   host.Listener
	once bool
}

// events is the window event surface shared by both realms and the page's
// own scripts. It implements host.EventTarget.
type events struct {
	mu     sync.Mutex
	seq    host.ListenerID
	byName map[string][]listener
}

func newEvents() *events {
	return &events{byName: make(map[string][]listener)}
}

func (e *events) AddListener(name string, fn host.Listener, once bool) host.ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.byName[name] = append(e.byName[name], listener{id: e.seq, fn: fn, once: once})
	return e.seq
}

func (e *events) RemoveListener(name string, id host.ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := e.byName[name]
	for i, l := range ls {
		if l.id == id {
			e.byName[name] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(e.byName[name]) == 0 {
		delete(e.byName, name)
	}
}

// Dispatch calls every listener registered for name at the time of the call.
// Once listeners are removed before any of them runs.
func (e *events) Dispatch(name string, detail any) bool {
	e.mu.Lock()
	ls := append([]listener(nil), e.byName[name]...)
	kept := e.byName[name][:0:0]
	for _, l := range e.byName[name] {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(e.byName, name)
	} else {
		e.byName[name] = kept
	}
	e.mu.Unlock()

	for _, l := range ls {
		l.fn(detail)
	}
	return len(ls) > 0
}

func (e *events) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byName[name])
}
