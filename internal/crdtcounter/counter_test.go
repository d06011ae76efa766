package crdtcounter

import (
	"testing"
	"time"

	"github.com/aegis-network/edge-core/internal/threatbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLocalIncrementAccumulates(t *testing.T) {
	m := NewManager("node-a", time.Minute, nil, nil)
	m.Increment("rate:203.0.113.5", 3)
	m.Increment("rate:203.0.113.5", 4)

	assert.Equal(t, int64(7), m.Value("rate:203.0.113.5"))
}

func TestManagerApplyMergesRemoteDelta(t *testing.T) {
	m := NewManager("node-a", time.Minute, nil, nil)
	m.Increment("rate:203.0.113.5", 3)

	op := threatbus.CounterOp{Actor: "node-b", Key: "rate:203.0.113.5", Increment: 5, Epoch: currentEpochFor(m, "rate:203.0.113.5"), Seq: 1}
	applied, needsResync := m.Apply(op)

	require.True(t, applied)
	assert.False(t, needsResync)
	assert.Equal(t, int64(8), m.Value("rate:203.0.113.5"))
}

func TestManagerApplyRejectsCausalityGap(t *testing.T) {
	m := NewManager("node-a", time.Minute, nil, nil)
	epoch := currentEpochFor(m, "k")
	op1 := threatbus.CounterOp{Actor: "node-b", Key: "k", Increment: 1, Epoch: epoch, Seq: 1}
	op2 := threatbus.CounterOp{Actor: "node-b", Key: "k", Increment: 1, Epoch: epoch, Seq: 5}

	applied1, resync1 := m.Apply(op1)
	applied2, resync2 := m.Apply(op2)

	assert.True(t, applied1)
	assert.False(t, resync1)
	assert.False(t, applied2)
	assert.True(t, resync2)
}

func TestManagerApplyIgnoresOwnActor(t *testing.T) {
	m := NewManager("node-a", time.Minute, nil, nil)
	epoch := currentEpochFor(m, "k")
	op := threatbus.CounterOp{Actor: "node-a", Key: "k", Increment: 1, Epoch: epoch, Seq: 1}

	applied, _ := m.Apply(op)
	assert.False(t, applied)
}

func TestManagerApplyRejectsOversizedIncrement(t *testing.T) {
	m := NewManager("node-a", time.Minute, nil, nil)
	m.val = NewValidator(ByzantineConfig{MaxIncrementPerWindow: 10, SuspicionThreshold: 1, UnblockAfter: time.Hour})
	epoch := currentEpochFor(m, "k")

	op := threatbus.CounterOp{Actor: "node-b", Key: "k", Increment: 1000, Epoch: epoch, Seq: 1}
	applied, _ := m.Apply(op)

	assert.False(t, applied)
	assert.True(t, m.val.IsQuarantined("node-b"))
}

func currentEpochFor(m *Manager, key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryFor(key, KindGrowOnly)
	return e.epoch.Current()
}
