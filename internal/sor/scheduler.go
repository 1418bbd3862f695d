package sor

import (
	"context"
	"time"

	"github.com/derivatex/sor-kernel/pkg/observability"
)

// TimeoutScheduler periodically scans live orders for ack/fill timeouts
// and force-expires them. Grounded on the execution engine's ticker-driven
// monitoring loops: a single goroutine started by Start(ctx) and stopped
// via context cancellation, never a one-goroutine-per-order design.
type TimeoutScheduler struct {
	tracker         *Tracker
	clock           Clock
	ackTimeout      time.Duration
	fillTimeout     time.Duration
	tickInterval    time.Duration
	enabled         bool
	logger          *observability.Logger
	onExpire        func(ctx context.Context, coid string, kind string)
	timeoutsAck     uint64
	timeoutsFill    uint64
}

// NewTimeoutScheduler constructs a scheduler. onExpire is invoked (outside
// the tracker lock) after each forced expiry so the caller can settle the
// outbox and release budget reservations.
func NewTimeoutScheduler(tracker *Tracker, clock Clock, ackTimeout, fillTimeout, tickInterval time.Duration, enabled bool, logger *observability.Logger, onExpire func(ctx context.Context, coid, kind string)) *TimeoutScheduler {
	return &TimeoutScheduler{
		tracker: tracker, clock: clock,
		ackTimeout: ackTimeout, fillTimeout: fillTimeout,
		tickInterval: tickInterval, enabled: enabled,
		logger: logger, onExpire: onExpire,
	}
}

// Start runs the scheduler's tick loop until ctx is canceled.
func (s *TimeoutScheduler) Start(ctx context.Context) {
	if !s.enabled || s.tickInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Tick scans every live order once for ack/fill timeout breaches, applying
// a synthetic "expire" event on each hit.
func (s *TimeoutScheduler) Tick(ctx context.Context) {
	if !s.enabled {
		return
	}
	now := s.clock.Now()
	nowNS := s.clock.NowNanos()
	for _, snap := range s.tracker.Snapshot() {
		switch snap.State {
		case StatePending:
			if s.ackTimeout > 0 && now.Sub(nanosToTime(snap.CreatedNS)) > s.ackTimeout {
				s.forceExpire(ctx, snap.COID, "ack", nowNS)
			}
		case StateAck, StatePartial:
			if s.fillTimeout > 0 && now.Sub(nanosToTime(snap.UpdatedNS)) > s.fillTimeout {
				s.forceExpire(ctx, snap.COID, "fill", nowNS)
			}
		}
	}
}

func (s *TimeoutScheduler) forceExpire(ctx context.Context, coid, kind string, nowNS int64) {
	_, err := s.tracker.ApplyEvent(ctx, coid, "expire", nil, nowNS)
	if err != nil {
		return
	}
	switch kind {
	case "ack":
		s.timeoutsAck++
	case "fill":
		s.timeoutsFill++
	}
	if s.logger != nil {
		s.logger.Warn(ctx, "order_timeout_scheduler.expired", map[string]interface{}{
			"component": "timeout_scheduler",
			"coid":      coid,
			"kind":      kind,
		})
	}
	if s.onExpire != nil {
		s.onExpire(ctx, coid, kind)
	}
}

// Counters returns the cumulative ack/fill timeout counts.
func (s *TimeoutScheduler) Counters() (ackTimeouts, fillTimeouts uint64) {
	return s.timeoutsAck, s.timeoutsFill
}

func nanosToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
