package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc"

	"github.com/aegis-network/edge-core/pb"
)

type fakeRegistryStub struct {
	entries map[string]*pb.RegistryEntry
	err     error
}

func (f *fakeRegistryStub) LookupByOperatorKey(ctx context.Context, in *pb.RegistryLookupRequest, opts ...grpc.CallOption) (*pb.RegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[in.OperatorKey]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func TestLookupByOperatorKeyReturnsEntry(t *testing.T) {
	stub := &fakeRegistryStub{entries: map[string]*pb.RegistryEntry{
		"op-1": {NodeId: "node-1", OperatorKey: "op-1", TrustedKeys: []string{"abcd"}, StakeTier: 3, Active: true},
	}}
	c := NewClient(stub)

	entry, err := c.LookupByOperatorKey(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", entry.NodeID)
	assert.Equal(t, int32(3), entry.StakeTier)
	assert.True(t, entry.Active)
	assert.Equal(t, []string{"abcd"}, entry.TrustedKeys)
}

func TestLookupByOperatorKeyPropagatesTransportError(t *testing.T) {
	stub := &fakeRegistryStub{err: errors.New("unavailable")}
	c := NewClient(stub)

	_, err := c.LookupByOperatorKey(context.Background(), "op-1")
	assert.Error(t, err)
}

func TestLookupByOperatorKeyUnknownKeyIsError(t *testing.T) {
	stub := &fakeRegistryStub{entries: map[string]*pb.RegistryEntry{}}
	c := NewClient(stub)

	_, err := c.LookupByOperatorKey(context.Background(), "missing")
	assert.Error(t, err)
}
