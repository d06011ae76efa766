// Package registry implements the read-only on-chain node registry client
// of spec.md §6: by-operator-key lookup of (node id, trusted public keys,
// stake tier, active flag). The core never writes through this client —
// registration, stake sync, and slashing happen through the out-of-scope
// CLI/contracts — so unlike internal/ledger/client.go's fire-and-forget
// RecordEntry, every call here is a blocking read, and failures fall back
// to the last good cached entry rather than to a local disk log.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegis-network/edge-core/pb"
)

// Client wraps the registry gRPC stub. It is constructed with the interface
// so a real grpc.ClientConn-backed stub or pb.MockRegistryClient can be
// plugged in interchangeably, the same DI shape as ledger.AuditLogger.
type Client struct {
	stub pb.RegistryServiceClient
}

// NewClient handles DI of the underlying registry stub.
func NewClient(stub pb.RegistryServiceClient) *Client {
	return &Client{stub: stub}
}

// Entry is the core's own view of a registry row, decoupled from the wire
// type so callers never import pb directly.
type Entry struct {
	NodeID      string
	OperatorKey string
	TrustedKeys []string
	StakeTier   int32
	Active      bool
}

// LookupByOperatorKey performs a single blocking read against the registry
// service. Staleness up to one epoch is acceptable per spec.md §6, so
// callers needing fresher data should go through Cache rather than calling
// this directly on a hot path.
func (c *Client) LookupByOperatorKey(ctx context.Context, operatorKey string) (*Entry, error) {
	resp, err := c.stub.LookupByOperatorKey(ctx, &pb.RegistryLookupRequest{OperatorKey: operatorKey})
	if err != nil {
		return nil, fmt.Errorf("registry: lookup %s: %w", operatorKey, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("registry: no entry for operator key %s", operatorKey)
	}
	entry := &Entry{
		NodeID:      resp.NodeId,
		OperatorKey: resp.OperatorKey,
		TrustedKeys: append([]string(nil), resp.TrustedKeys...),
		StakeTier:   resp.StakeTier,
		Active:      resp.Active,
	}
	slog.Debug("registry: resolved operator key", "operator_key", operatorKey, "node_id", entry.NodeID, "active", entry.Active)
	return entry, nil
}
