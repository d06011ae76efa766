package challenge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeToken serializes a Token into the opaque string the orchestrator
// hands back to the client (as a cookie or header value) and expects on
// subsequent requests.
func EncodeToken(tok *Token) (string, error) {
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("challenge: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token string previously produced by EncodeToken.
func DecodeToken(s string) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrMalformed)
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: bad json", ErrMalformed)
	}
	return &tok, nil
}
