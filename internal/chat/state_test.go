package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	path := []State{StateReceived, StatePlanned, StateRetrieved, StateGenerated, StateValidated, StateDelivered}
	for i := 1; i < len(path); i++ {
		assert.True(t, canTransition(path[i-1], path[i]), "%s -> %s", path[i-1], path[i])
	}
	assert.True(t, canTransition(StateRetrieved, StateDelivered))
	assert.True(t, canTransition(StateValidated, StateRejected))

	assert.False(t, canTransition(StatePlanned, StateGenerated))
	assert.False(t, canTransition(StateDelivered, StateRejected))
	assert.False(t, canTransition(StateRejected, StateDelivered))
	assert.True(t, StateRejected.Terminal())
	assert.False(t, StateValidated.Terminal())
}

func TestStateMarshalText(t *testing.T) {
	b, err := StateDelivered.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "delivered", string(b))
	assert.Equal(t, "state(42)", State(42).String())
}
