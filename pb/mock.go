package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Registry Types — the read-only view of the on-chain node registry
// (operator key → node id, trusted keys, stake tier, active flag). The core
// never writes through this client; registration, stake sync, and slashing
// happen through the out-of-scope CLI/contracts.
type RegistryEntry struct {
	NodeId        string
	OperatorKey   string
	TrustedKeys   []string
	StakeTier     int32
	Active        bool
	LastUpdated   *timestamppb.Timestamp
}

type RegistryLookupRequest struct {
	OperatorKey string
}

type RegistryServiceClient interface {
	LookupByOperatorKey(ctx context.Context, in *RegistryLookupRequest, opts ...grpc.CallOption) (*RegistryEntry, error)
}

type MockRegistryClient struct{}

func (m *MockRegistryClient) LookupByOperatorKey(ctx context.Context, in *RegistryLookupRequest, opts ...grpc.CallOption) (*RegistryEntry, error) {
	return nil, nil
}
