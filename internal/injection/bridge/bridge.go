// Package bridge carries messages between the isolated realm and the page
// realm and owns the identity table both realms report into.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

var (
	ErrNoEndpoint = errors.New("realm endpoint not attached")
	ErrBadPayload = errors.New("unexpected message payload")
)

// Handler processes a message sent from a realm back to the isolated side
type Handler func(msg host.Message)

// Bridge routes posts to the attached realm endpoints. It implements host.Peer
// so endpoints can report status and send messages back.
type Bridge struct {
	table  *Table
	logger *zap.Logger

	mu        sync.RWMutex
	endpoints map[script.Realm]host.Endpoint
	handlers  map[string]Handler
}

// New creates a bridge with an empty identity table
func New(logger *zap.Logger) *Bridge {
	return &Bridge{
		table:     NewTable(),
		logger:    logging.OrNop(logger).Named("bridge"),
		endpoints: make(map[script.Realm]host.Endpoint),
		handlers:  make(map[string]Handler),
	}
}

// Table returns the identity table
func (b *Bridge) Table() *Table { return b.table }

// Attach connects the endpoint for realm, replacing any previous one
func (b *Bridge) Attach(realm script.Realm, ep host.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[realm] = ep
}

// Attached reports whether realm has an endpoint
func (b *Bridge) Attached(realm script.Realm) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoints[realm] != nil
}

// Handle registers fn for messages with cmd coming back from a realm
func (b *Bridge) Handle(cmd string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[cmd] = fn
}

// Post sends cmd to realm and reports whether the receiver acknowledged it.
// Page-bound payloads are serialized as they would be across a structured
// clone boundary. Failures are logged and never returned: a broken or hostile
// page must not be able to fail the caller.
func (b *Bridge) Post(cmd string, payload any, realm script.Realm) (acked bool) {
	b.mu.RLock()
	ep := b.endpoints[realm]
	b.mu.RUnlock()

	log := b.logger.With(zap.String("cmd", cmd), zap.Stringer(logging.FieldRealm, realm))
	if ep == nil {
		log.Debug("post dropped", zap.Error(ErrNoEndpoint))
		return false
	}

	msg := host.Message{Cmd: cmd}
	if realm == script.RealmPage {
		data, err := sonic.Marshal(payload)
		if err != nil {
			log.Warn("failed to encode bridge payload", zap.Error(err))
			return false
		}
		msg.Data = data
	} else {
		msg.Payload = payload
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("realm endpoint panicked", zap.Any("panic", r))
			acked = false
		}
	}()
	if err := ep.Deliver(msg); err != nil {
		log.Warn("bridge post failed", zap.Error(err))
		return false
	}
	return true
}

// SetStatus implements host.Peer
func (b *Bridge) SetStatus(id string, status int) {
	b.table.Set(id, Status(status))
}

// Status implements host.Peer
func (b *Bridge) Status(id string) int {
	return int(b.table.Get(id))
}

// Receive implements host.Peer
func (b *Bridge) Receive(msg host.Message) {
	b.mu.RLock()
	fn := b.handlers[msg.Cmd]
	b.mu.RUnlock()

	if fn == nil {
		b.logger.Debug("unhandled realm message", zap.String("cmd", msg.Cmd))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge handler panicked", zap.String("cmd", msg.Cmd), zap.Any("panic", r))
		}
	}()
	fn(msg)
}

// Decode extracts a typed payload from msg, decoding serialized page data or
// asserting an isolated-realm payload.
func Decode[T any](msg host.Message) (T, error) {
	var v T
	if msg.Data != nil {
		if err := sonic.Unmarshal(msg.Data, &v); err != nil {
			return v, fmt.Errorf("decode %s: %w", msg.Cmd, err)
		}
		return v, nil
	}
	switch p := msg.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	return v, fmt.Errorf("decode %s: %w", msg.Cmd, ErrBadPayload)
}
