package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseNextCycles(t *testing.T) {
	assert.Equal(t, PhaseResponding, PhaseWaiting.Next())
	assert.Equal(t, PhaseGuessing, PhaseResponding.Next())
	assert.Equal(t, PhaseResults, PhaseGuessing.Next())
	assert.Equal(t, PhaseWaiting, PhaseResults.Next())

	// Unknown phases fall back to waiting.
	assert.Equal(t, PhaseWaiting, Phase("bogus").Next())
}

func TestPhaseTimed(t *testing.T) {
	assert.False(t, PhaseWaiting.Timed())
	assert.True(t, PhaseResponding.Timed())
	assert.True(t, PhaseGuessing.Timed())
	assert.True(t, PhaseResults.Timed())
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, PhaseWaiting.CanTransitionTo(PhaseResponding))
	assert.False(t, PhaseWaiting.CanTransitionTo(PhaseGuessing))
	assert.False(t, PhaseResponding.CanTransitionTo(PhaseWaiting))
}
