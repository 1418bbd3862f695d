package sor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextState_HappyPath(t *testing.T) {
	state, err := NextState(StateNew, "submit")
	assert.NoError(t, err)
	assert.Equal(t, StatePending, state)

	state, err = NextState(state, "ACK")
	assert.NoError(t, err)
	assert.Equal(t, StateAck, state)

	state, err = NextState(state, " partial_fill ")
	assert.NoError(t, err)
	assert.Equal(t, StatePartial, state)

	state, err = NextState(state, "filled")
	assert.NoError(t, err)
	assert.Equal(t, StateFilled, state)
}

func TestNextState_InvalidEvent(t *testing.T) {
	_, err := NextState(StateNew, "")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NextState(StateNew, "   ")
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNextState_IllegalTransition(t *testing.T) {
	_, err := NextState(StateNew, "filled")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = NextState(StateCanceled, "ack")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestNextState_CanceledEscapeHatchFromFilled(t *testing.T) {
	state, err := NextState(StateFilled, "canceled")
	assert.NoError(t, err)
	assert.Equal(t, StateCanceled, state)
}

func TestNextState_CanceledIsIdempotent(t *testing.T) {
	state, err := NextState(StateCanceled, "canceled")
	assert.NoError(t, err)
	assert.Equal(t, StateCanceled, state)
}

func TestValidateTransition_NoOpSameState(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateAck, StateAck))
}

func TestValidateTransition_TerminalRejectsFurtherMoves(t *testing.T) {
	err := ValidateTransition(StateFilled, StateCanceled)
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestValidateTransition_StrictTableNarrowerThanPermissive(t *testing.T) {
	// The permissive tracker table allows PARTIAL->REJECTED; confirm the
	// strict validator disallows it.
	err := ValidateTransition(StatePartial, StateRejected)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestValidateTransition_AllowedPath(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateNew, StatePending))
	assert.NoError(t, ValidateTransition(StatePending, StateAck))
	assert.NoError(t, ValidateTransition(StateAck, StateFilled))
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []OrderState{StateFilled, StateCanceled, StateRejected, StateExpired} {
		assert.True(t, IsTerminal(s))
	}
	for _, s := range []OrderState{StateNew, StatePending, StateAck, StatePartial} {
		assert.False(t, IsTerminal(s))
	}
}
