package crdtcounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPNCounterValueReflectsIncrementsAndDecrements(t *testing.T) {
	p := NewPNCounter()
	p.Increment("node-a", 10)
	p.Decrement("node-a", 3)

	assert.Equal(t, int64(7), p.Value())
}

func TestPNCounterMergeAppliesElementWiseMaxPerSide(t *testing.T) {
	a := NewPNCounter()
	a.Increment("node-a", 5)
	a.Decrement("node-a", 1)

	b := NewPNCounter()
	b.Increment("node-a", 8)
	b.Decrement("node-a", 4)

	a.MergePositive(b.SnapshotPositive())
	a.MergeNegative(b.SnapshotNegative())

	assert.Equal(t, int64(4), a.Value())
}
