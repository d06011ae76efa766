package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeSPIFFEIDFormatsTrustDomainAndNodeID(t *testing.T) {
	id := NodeSPIFFEID("aegis.network", "node-7f3a")
	assert.Equal(t, "spiffe://aegis.network/node/node-7f3a", id)
}

func TestSVIDHashIsStableForSameInput(t *testing.T) {
	cert := []byte("fixture-certificate-der-bytes")
	assert.Equal(t, svidHash(cert), svidHash(cert))
}

func TestSVIDHashDiffersForDifferentInput(t *testing.T) {
	assert.NotEqual(t, svidHash([]byte("cert-a")), svidHash([]byte("cert-b")))
}
