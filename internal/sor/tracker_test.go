package sor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(coid string, qty string, nowNS int64) TrackedOrder {
	return TrackedOrder{
		COID:      coid,
		IntentKey: coid + "-key",
		Venue:     "binance",
		Symbol:    "BTC-USDT",
		Side:      SideBuy,
		Qty:       decimal.RequireFromString(qty),
		Filled:    decimal.Zero,
		State:     StateNew,
		CreatedNS: nowNS,
		UpdatedNS: nowNS,
	}
}

func TestTracker_RegisterIsIdempotent(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()

	assert.True(t, tr.Register(ctx, newTestOrder("c1", "1.0", 100)))
	assert.False(t, tr.Register(ctx, newTestOrder("c1", "1.0", 200)))
	assert.Equal(t, 1, tr.Len())

	_, _, _, _, _, _ = tr.AuditSnapshot()
	dupReg, _, _, _, _, _ := tr.AuditSnapshot()
	assert.Equal(t, uint64(1), dupReg)
}

func TestTracker_ApplyEvent_UnknownOrder(t *testing.T) {
	tr := NewTracker(10, nil)
	_, err := tr.ApplyEvent(context.Background(), "missing", "submit", nil, 1)
	require.Error(t, err)

	_, _, _, _, ackMissingRegister, _ := tr.AuditSnapshot()
	assert.Equal(t, uint64(1), ackMissingRegister)
}

func TestTracker_ApplyEvent_FillWithoutAckIsCountedDistinctly(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()
	require.True(t, tr.Register(ctx, newTestOrder("c9", "1.0", 100)))
	_, err := tr.ApplyEvent(ctx, "c9", "submit", nil, 101)
	require.NoError(t, err)

	_, err = tr.ApplyEvent(ctx, "c9", "filled", nil, 102)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, _, outOfOrder, fillWithoutAck, _, _ := tr.AuditSnapshot()
	assert.Equal(t, uint64(0), outOfOrder)
	assert.Equal(t, uint64(1), fillWithoutAck)
}

func TestTracker_ApplyEvent_FillClampedToQty(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()
	require.True(t, tr.Register(ctx, newTestOrder("c2", "2.0", 100)))

	_, err := tr.ApplyEvent(ctx, "c2", "submit", nil, 101)
	require.NoError(t, err)
	_, err = tr.ApplyEvent(ctx, "c2", "ack", nil, 102)
	require.NoError(t, err)

	overfill := decimal.RequireFromString("5.0")
	state, err := tr.ApplyEvent(ctx, "c2", "partial_fill", &overfill, 103)
	require.NoError(t, err)
	assert.Equal(t, StatePartial, state)

	order, ok := tr.Get("c2")
	require.True(t, ok)
	assert.True(t, order.Filled.Equal(decimal.RequireFromString("2.0")))
}

func TestTracker_ApplyEvent_FilledSetsFilledToQtyUnconditionally(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()
	require.True(t, tr.Register(ctx, newTestOrder("c3", "3.0", 100)))
	_, err := tr.ApplyEvent(ctx, "c3", "submit", nil, 101)
	require.NoError(t, err)
	_, err = tr.ApplyEvent(ctx, "c3", "ack", nil, 102)
	require.NoError(t, err)

	state, err := tr.ApplyEvent(ctx, "c3", "filled", nil, 103)
	require.NoError(t, err)
	assert.Equal(t, StateFilled, state)

	order, ok := tr.Get("c3")
	require.True(t, ok)
	assert.True(t, order.Filled.Equal(decimal.RequireFromString("3.0")))
}

func TestTracker_ApplyEvent_TerminalAbsorptionCountsAsOutOfOrder(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()
	require.True(t, tr.Register(ctx, newTestOrder("c4", "1.0", 100)))
	_, err := tr.ApplyEvent(ctx, "c4", "submit", nil, 101)
	require.NoError(t, err)
	_, err = tr.ApplyEvent(ctx, "c4", "reject", nil, 102)
	require.NoError(t, err)

	state, err := tr.ApplyEvent(ctx, "c4", "reject", nil, 103)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, state)

	_, dup, outOfOrder, _, _, _ := tr.AuditSnapshot()
	assert.Equal(t, uint64(0), dup)
	assert.Equal(t, uint64(1), outOfOrder)
}

func TestTracker_FinalizeRemovesEntry(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()
	require.True(t, tr.Register(ctx, newTestOrder("c5", "1.0", 100)))
	assert.True(t, tr.Finalize("c5", StateCanceled))
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.Finalize("c5", StateCanceled))
}

func TestTracker_CleanupTTLThenSize(t *testing.T) {
	tr := NewTracker(10, nil)
	ctx := context.Background()
	require.True(t, tr.Register(ctx, newTestOrder("old", "1.0", 0)))
	require.True(t, tr.Register(ctx, newTestOrder("new", "1.0", 100*nanosPerSecond)))

	removedTTL, removedSize := tr.Cleanup(100*nanosPerSecond, 50, 10)
	assert.Equal(t, 1, removedTTL)
	assert.Equal(t, 0, removedSize)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_EnforceCapacityEvictsOldestTerminalFirst(t *testing.T) {
	tr := NewTracker(2, nil)
	ctx := context.Background()

	o1 := newTestOrder("t1", "1.0", 100)
	o1.State = StateFilled
	require.True(t, tr.Register(ctx, o1))

	o2 := newTestOrder("t2", "1.0", 50)
	o2.State = StateFilled
	require.True(t, tr.Register(ctx, o2))

	o3 := newTestOrder("t3", "1.0", 200)
	require.True(t, tr.Register(ctx, o3))

	assert.LessOrEqual(t, tr.Len(), 2)
	_, ok := tr.Get("t2")
	assert.False(t, ok, "oldest terminal order should have been evicted first")
}
