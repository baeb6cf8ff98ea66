package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is the position of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings configures a Breaker. Zero fields take defaults.
type Settings struct {
	// MaxRequests is both the number of trial calls admitted while half-open
	// and the successes needed to close again. Default 1.
	MaxRequests uint32
	// Interval clears the counts of a closed breaker. Default one minute.
	Interval time.Duration
	// Timeout is how long the breaker stays open. Default one minute.
	Timeout time.Duration
	// ReadyToTrip decides after a failure whether a closed breaker opens.
	// Default: more than five failures in a row.
	ReadyToTrip   func(counts Counts) bool
	OnStateChange func(name string, from State, to State)
	Clock         clock.Clock
}

// Counts are the outcomes seen since the last state change or interval
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

func (c *Counts) record(ok bool) {
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker stops calling a collaborator that keeps failing. It is safe for
// concurrent use.
type Breaker struct {
	name string
	cfg  Settings

	mu     sync.Mutex
	state  State
	counts Counts
	// epoch changes whenever counts are cleared, so outcomes of calls
	// admitted before are dropped
	epoch    uint64
	deadline time.Time
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.Clock == nil {
		settings.Clock = clock.Real{}
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	return &Breaker{
		name:     name,
		cfg:      settings,
		deadline: settings.Clock.Now().Add(settings.Interval),
	}
}

// State returns the current state, moving an expired open breaker to
// half-open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.cfg.Clock.Now())
	return b.state
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs req if the breaker admits it. A rejected call returns
// ErrCircuitOpen or ErrTooManyRequests without running req. A panic in req
// counts as a failure and is re-raised.
func (b *Breaker) Execute(req func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}
	ok := false
	defer func() { b.done(epoch, ok) }()

	err = req()
	ok = err == nil
	return err
}

// Rejected reports whether err came from the breaker rather than the request
func Rejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.cfg.Clock.Now())

	switch {
	case b.state == StateOpen:
		return b.epoch, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests:
		return b.epoch, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.epoch, nil
}

func (b *Breaker) done(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock.Now()
	b.advance(now)
	if epoch != b.epoch {
		return
	}

	b.counts.record(ok)
	switch {
	case b.state == StateHalfOpen && !ok:
		b.transition(StateOpen, now)
	case b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests:
		b.transition(StateClosed, now)
	case b.state == StateClosed && !ok && b.cfg.ReadyToTrip(b.counts):
		b.transition(StateOpen, now)
	}
}

// advance applies the time-driven changes: a closed breaker starts a new
// interval and an open one whose timeout passed becomes half-open
func (b *Breaker) advance(now time.Time) {
	if b.deadline.IsZero() || !now.After(b.deadline) {
		return
	}
	switch b.state {
	case StateClosed:
		b.clear()
		b.deadline = now.Add(b.cfg.Interval)
	case StateOpen:
		b.transition(StateHalfOpen, now)
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.clear()
	switch to {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Interval)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Timeout)
	default:
		b.deadline = time.Time{}
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) clear() {
	b.counts = Counts{}
	b.epoch++
}
