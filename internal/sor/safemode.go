package sor

import (
	"sync"
	"time"
)

// SafeModeState is the trading-wide circuit breaker's state.
type SafeModeState string

const (
	SafeModeNormal SafeModeState = "NORMAL"
	SafeModeHold   SafeModeState = "HOLD"
	SafeModeKill   SafeModeState = "KILL"
)

// SafeModeStatus is an immutable point-in-time snapshot of the controller.
type SafeModeStatus struct {
	State     SafeModeState
	Reason    string
	Extra     map[string]interface{}
	UpdatedAt time.Time
}

// SafeModeController gates trading globally. KILL is sticky: once
// entered, no subsequent HOLD call can downgrade it — only an explicit
// Reset (an operator action, not a guard) clears it.
type SafeModeController struct {
	mu     sync.RWMutex
	status SafeModeStatus
}

// NewSafeModeController starts in NORMAL.
func NewSafeModeController() *SafeModeController {
	return &SafeModeController{status: SafeModeStatus{State: SafeModeNormal}}
}

// Status returns the current status.
func (c *SafeModeController) Status() SafeModeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// EnterHold requests HOLD. A no-op if already KILL (sticky-KILL guard).
func (c *SafeModeController) EnterHold(reason string, extra map[string]interface{}, now time.Time) SafeModeStatus {
	return c.setStatus(SafeModeStatus{State: SafeModeHold, Reason: reason, Extra: extra, UpdatedAt: now})
}

// EnterKill requests KILL. Always takes effect (KILL can only be followed
// by KILL or an explicit Reset).
func (c *SafeModeController) EnterKill(reason string, extra map[string]interface{}, now time.Time) SafeModeStatus {
	return c.setStatus(SafeModeStatus{State: SafeModeKill, Reason: reason, Extra: extra, UpdatedAt: now})
}

// EnterNormal requests a return to NORMAL. A no-op if already KILL.
func (c *SafeModeController) EnterNormal(reason string, extra map[string]interface{}, now time.Time) SafeModeStatus {
	return c.setStatus(SafeModeStatus{State: SafeModeNormal, Reason: reason, Extra: extra, UpdatedAt: now})
}

// Reset forcibly clears KILL, for operator-initiated recovery only. Not
// reachable from any guard or automated caller.
func (c *SafeModeController) Reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = SafeModeStatus{State: SafeModeNormal, UpdatedAt: now}
}

func (c *SafeModeController) setStatus(next SafeModeStatus) SafeModeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.status
	if previous.State == SafeModeKill && next.State != SafeModeKill {
		return previous
	}
	if previous.State == next.State && previous.Reason == next.Reason {
		return previous
	}
	c.status = next
	return next
}

// IsTradingAllowed reports whether new order submission is permitted.
func (c *SafeModeController) IsTradingAllowed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State == SafeModeNormal
}

// IsOpeningAllowed reports whether new position-opening orders may be
// submitted; identical to IsTradingAllowed today but kept distinct so a
// future state can permit closes-only without also permitting opens.
func (c *SafeModeController) IsOpeningAllowed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State == SafeModeNormal
}

// IsClosureAllowed reports whether reduce-only/closing orders may proceed;
// true in both NORMAL and HOLD, false only in KILL.
func (c *SafeModeController) IsClosureAllowed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State != SafeModeKill
}
