package translate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Provider is a single translation backend. Implementations report their own
// availability: a provider in cooldown answers false until the window ends.
type Provider interface {
	Name() string
	Available() bool
	// PaceInterval is the minimum delay between consecutive calls.
	PaceInterval() time.Duration
	Translate(ctx context.Context, text string) (string, error)
}

// ProviderError is a business error reported by the backend itself, as
// opposed to a transport fault.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("provider error: %s", e.Message)
	}
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// cooldown is a timed unavailability window shared by provider
// implementations. The zero value is ready to use.
type cooldown struct {
	mu    sync.Mutex
	until time.Time
}

func (c *cooldown) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.until)
}

func (c *cooldown) enterUntil(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.until) {
		c.until = t
	}
}

func (c *cooldown) enterFor(d time.Duration) {
	c.enterUntil(time.Now().Add(d))
}

// manualInterventionWindow is the cooldown applied on errors that need an
// operator to act (bad credentials and the like). Retrying sooner only burns
// quota.
const manualInterventionWindow = 5 * time.Minute
