package executor

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
)

// HealthState is the state of the registration API
type HealthState string

const (
	HealthUnknown     HealthState = "unknown"
	HealthOK          HealthState = "ok"
	HealthDisabled    HealthState = "disabled"
	HealthUnsupported HealthState = "unsupported"
	HealthError       HealthState = "error"
)

// EnableMessage tells the user how to turn the user scripts API on
const EnableMessage = `Enable "Allow User Scripts" for the extension in chrome://extensions, then reload this tab.`

const maxHealthDetail = 400

var disabledRE = regexp.MustCompile(`(?i)allow user scripts|user scripts? (?:is|are)? ?(?:disabled|not enabled|not allowed)|not been granted permission|access to user scripts|cannot access user scripts`)

// Health is the cached result of the registration check
type Health struct {
	State     HealthState `json:"state"`
	Message   string      `json:"message,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// Health checks the registration API by registering and removing a throwaway
// script. The result is cached for the configured TTL unless force is set.
func (a *Adapter) Health(ctx context.Context, force bool) Health {
	now := a.clock.Now()
	a.mu.Lock()
	cached := a.health
	a.mu.Unlock()
	if !force && !cached.CheckedAt.IsZero() && now.Sub(cached.CheckedAt) < a.cfg.HealthTTL {
		return cached
	}

	h := a.check(ctx, now)
	h.CheckedAt = now

	a.mu.Lock()
	a.health = h
	a.mu.Unlock()
	if h.State == HealthDisabled {
		a.logger.Warn("user scripts are disabled", zap.String("detail", h.Detail))
	}
	return h
}

func (a *Adapter) check(ctx context.Context, now time.Time) Health {
	if !a.canRegister {
		p := a.caps.Platform
		if p.Restrictive() && p.Family != host.FamilyFirefox {
			return Health{State: HealthDisabled, Message: EnableMessage, Detail: "userScripts.register missing"}
		}
		return Health{State: HealthUnsupported, Detail: "userScripts.register missing"}
	}

	a.mu.Lock()
	a.seq++
	id := "vm-health-check-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.Itoa(a.seq)
	a.mu.Unlock()

	err := a.caps.UserScripts.Register(ctx, []host.Registration{{
		ID:      id,
		Matches: []string{"https://example.invalid/*"},
		Code:    "void 0;",
		RunAt:   "document_start",
	}})
	if err != nil {
		detail := err.Error()
		if len(detail) > maxHealthDetail {
			detail = detail[:maxHealthDetail]
		}
		if disabledRE.MatchString(detail) {
			return Health{State: HealthDisabled, Message: EnableMessage, Detail: detail}
		}
		return Health{State: HealthError, Detail: detail}
	}
	_ = a.caps.UserScripts.Unregister(ctx, []string{id})
	return Health{State: HealthOK}
}
