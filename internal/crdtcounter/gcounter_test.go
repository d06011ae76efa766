package crdtcounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGCounterIncrementAccumulatesPerActor(t *testing.T) {
	g := NewGCounter()
	g.Increment("node-a", 3)
	g.Increment("node-a", 2)
	g.Increment("node-b", 10)

	assert.Equal(t, uint64(15), g.Value())
}

func TestGCounterMergeIsElementWiseMax(t *testing.T) {
	a := NewGCounter()
	a.Increment("node-a", 5)
	a.Increment("node-b", 1)

	b := NewGCounter()
	b.Increment("node-a", 2)
	b.Increment("node-b", 9)

	a.Merge(b.Snapshot())

	snap := a.Snapshot()
	assert.Equal(t, uint64(5), snap["node-a"])
	assert.Equal(t, uint64(9), snap["node-b"])
}

func TestGCounterMergeIsIdempotent(t *testing.T) {
	a := NewGCounter()
	a.Increment("node-a", 5)
	snap := a.Snapshot()

	a.Merge(snap)
	a.Merge(snap)

	assert.Equal(t, uint64(5), a.Value())
}

func TestGCounterMergeNonDecreasing(t *testing.T) {
	a := NewGCounter()
	a.Increment("node-a", 5)
	before := a.Value()

	a.Merge(map[string]uint64{"node-a": 1, "node-b": 0})

	assert.GreaterOrEqual(t, a.Value(), before)
}
