package metricsagg

import "github.com/aegis-network/edge-core/internal/canonical"

// Sign produces a SignedReport using signer, stamping report.IssuerKey
// from the signer's own public key.
func Sign(signer *canonical.Signer, report Report) (*SignedReport, error) {
	report.IssuerKey = signer.PublicKeyHex()
	_, sig, err := signer.SignValue(report)
	if err != nil {
		return nil, err
	}
	return &SignedReport{Report: report, Signature: sig}, nil
}

// Verify checks a SignedReport's signature against pubKey.
func Verify(sr *SignedReport, pubKey []byte) bool {
	data, err := canonical.Marshal(sr.Report)
	if err != nil {
		return false
	}
	return canonical.Verify(pubKey, data, sr.Signature)
}
