package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionTable(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to State }{
		{StatePending, StateProcessing},
		{StatePending, StateBlocked},
		{StatePending, StateInvalidURL},
		{StateProcessing, StateSuccess},
		{StateProcessing, StateFailed},
		{StateProcessing, StateBlocked},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to State }{
		{StatePending, StateSuccess},
		{StatePending, StateFailed},
		{StateProcessing, StateInvalidURL},
		{StateProcessing, StatePending},
		{StateSuccess, StateFailed},
		{StateFailed, StateProcessing},
		{StateBlocked, StateSuccess},
		{StateInvalidURL, StateProcessing},
	}
	for _, tc := range denied {
		require.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateSuccess, StateFailed, StateBlocked, StateInvalidURL} {
		require.True(t, s.Terminal())
		require.Empty(t, AllowedTransitions(s))
	}
	require.False(t, StatePending.Terminal())
	require.False(t, StateProcessing.Terminal())
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	t.Parallel()

	first := AllowedTransitions(StatePending)
	first[0] = StateFailed
	require.Equal(t, StateProcessing, AllowedTransitions(StatePending)[0])
}

func TestStateValid(t *testing.T) {
	t.Parallel()

	require.True(t, StateBlocked.Valid())
	require.False(t, State("archived").Valid())
}

func TestTransientErrorClassification(t *testing.T) {
	t.Parallel()

	base := &InvalidTransitionError{From: StatePending, To: StateSuccess}
	require.False(t, IsTransient(base))
	require.True(t, IsTransient(Transient(base)))
	require.Nil(t, Transient(nil))
}
