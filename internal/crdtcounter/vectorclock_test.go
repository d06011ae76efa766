package crdtcounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorClockObservesInCausalOrder(t *testing.T) {
	vc := NewVectorClock()
	assert.True(t, vc.Observe("node-a", 1))
	assert.True(t, vc.Observe("node-a", 2))
	assert.True(t, vc.Observe("node-a", 3))
}

func TestVectorClockDetectsGap(t *testing.T) {
	vc := NewVectorClock()
	assert.True(t, vc.Observe("node-a", 1))
	assert.False(t, vc.Observe("node-a", 5))
}

func TestVectorClockToleratesDuplicateOrStale(t *testing.T) {
	vc := NewVectorClock()
	assert.True(t, vc.Observe("node-a", 1))
	assert.True(t, vc.Observe("node-a", 2))
	assert.True(t, vc.Observe("node-a", 1))
}
