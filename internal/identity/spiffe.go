// Package identity verifies peer node identity over SPIFFE/SPIRE mTLS, the
// credential C9's threat-bus gossip and §6's registry lookups both key off
// of (a node's SPIFFE ID is its stable identity across IP changes).
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// NodeVerifier verifies peer node SVIDs against a local SPIRE agent.
type NodeVerifier struct {
	source *workloadapi.X509Source
}

// NewNodeVerifier connects to the SPIRE agent at socketPath, timing out
// rather than blocking daemon startup if the agent is unreachable.
func NewNodeVerifier(socketPath string) (*NodeVerifier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: connect to SPIRE agent: %w", err)
	}

	slog.Info("identity: connected to SPIRE agent", "socket_path", socketPath)
	return &NodeVerifier{source: source}, nil
}

// VerifyNodeID checks that this node's own SVID matches the expected
// SPIFFE ID and returns a short correlation hash of the certificate, used
// to tag gossip records and registry lookups without re-parsing the cert.
func (v *NodeVerifier) VerifyNodeID(expectedSPIFFEID string) (uint64, error) {
	id, err := spiffeid.FromString(expectedSPIFFEID)
	if err != nil {
		return 0, fmt.Errorf("identity: invalid SPIFFE ID: %w", err)
	}

	svid, err := v.source.GetX509SVID()
	if err != nil {
		return 0, fmt.Errorf("identity: get SVID: %w", err)
	}

	if svid.ID.String() != id.String() {
		return 0, fmt.Errorf("identity: SPIFFE ID mismatch: expected %s, got %s", id, svid.ID)
	}

	hash := svidHash(svid.Certificates[0].Raw)
	slog.Info("identity: verified node SPIFFE ID", "spiffe_id", expectedSPIFFEID, "hash", hash)
	return hash, nil
}

// svidHash derives a 64-bit correlation id from an SVID's DER-encoded
// certificate.
func svidHash(certDER []byte) uint64 {
	hash := sha256.Sum256(certDER)
	var result uint64
	for i := 0; i < 8; i++ {
		result = (result << 8) | uint64(hash[i])
	}
	return result
}

// MTLSClientConfig returns a TLS config authenticating this node's
// identity to peers and accepting any peer with a valid SVID (authorization
// by trust-domain membership, not by individual peer identity — the
// registry of spec.md §6 is the authorization layer, not mTLS itself).
func (v *NodeVerifier) MTLSClientConfig() (*tls.Config, error) {
	return tlsconfig.MTLSClientConfig(v.source, v.source, tlsconfig.AuthorizeAny()), nil
}

// Close releases the underlying SPIFFE workload API connection.
func (v *NodeVerifier) Close() error {
	return v.source.Close()
}

// NodeSPIFFEID formats the SPIFFE ID a node in trustDomain presents,
// keyed by its stable node id (the same id used in threatbus gossip and
// the registry lookup of spec.md §6).
func NodeSPIFFEID(trustDomain, nodeID string) string {
	return fmt.Sprintf("spiffe://%s/node/%s", trustDomain, nodeID)
}
