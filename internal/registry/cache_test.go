package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aegis-network/edge-core/internal/threatbus"
	"github.com/aegis-network/edge-core/pb"
)

func TestCacheWarmPopulatesLookupAndTrustedIssuers(t *testing.T) {
	stub := &fakeRegistryStub{entries: map[string]*pb.RegistryEntry{
		"op-1": {NodeId: "node-1", OperatorKey: "op-1", TrustedKeys: []string{"key-a", "key-b"}, StakeTier: 1, Active: true},
		"op-2": {NodeId: "node-2", OperatorKey: "op-2", TrustedKeys: []string{"key-c"}, StakeTier: 0, Active: false},
	}}
	client := NewClient(stub)
	bus := threatbus.New(nil, "", nil, 0, 0)
	cache := NewCache(client, 0, bus)

	cache.Warm(context.Background(), []string{"op-1", "op-2"})

	entry, ok := cache.Lookup("op-1")
	assert.True(t, ok)
	assert.Equal(t, "node-1", entry.NodeID)

	tier, active := cache.ActiveNodeTier("op-1")
	assert.Equal(t, int32(1), tier)
	assert.True(t, active)

	_, active = cache.ActiveNodeTier("op-2")
	assert.False(t, active)
}

func TestCacheRefreshKeepsStaleEntryOnTransientFailure(t *testing.T) {
	stub := &fakeRegistryStub{entries: map[string]*pb.RegistryEntry{
		"op-1": {NodeId: "node-1", OperatorKey: "op-1", Active: true},
	}}
	client := NewClient(stub)
	cache := NewCache(client, 0, nil)
	cache.Warm(context.Background(), []string{"op-1"})

	stub.entries = nil
	stub.err = assertErr{}
	cache.refresh(context.Background(), []string{"op-1"})

	entry, ok := cache.Lookup("op-1")
	assert.True(t, ok)
	assert.Equal(t, "node-1", entry.NodeID)
}

type assertErr struct{}

func (assertErr) Error() string { return "transient" }
