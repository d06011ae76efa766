// Package canonical provides deterministic JSON encoding and Ed25519
// signing helpers shared by every component that produces a signed,
// verifiable artifact: challenge tokens (C4), threat records and counter
// deltas (C9), and signed metric reports (C11).
package canonical

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal produces a canonical JSON encoding of v: object keys sorted
// lexicographically at every nesting level, no insignificant whitespace.
// Round-tripping Marshal -> Unmarshal -> Marshal of the same logical value
// always yields byte-identical output.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: re-decode: %w", err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Signer wraps an Ed25519 key pair for signing canonical-JSON payloads,
// grounded on the teacher's Ed25519Provider shape (federation/crypto_provider.go)
// but narrowed to the single algorithm spec requires.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 key pair.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("canonical: key generation: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// NewSignerFromSeed derives a deterministic key pair from a 32-byte seed,
// used so node operators can persist a stable signing identity across
// restarts via AEGIS_CHALLENGE_SEED / AEGIS_METRICS_SEED.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("canonical: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// PublicKeyHex returns the hex encoding of the public key, the wire form
// used for IssuerKey fields on signed records and counter ops.
func (s *Signer) PublicKeyHex() string { return hex.EncodeToString(s.pub) }

// Sign signs arbitrary bytes (typically the output of Marshal).
func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

// SignValue canonicalizes v and signs the result, returning both the
// canonical bytes and the signature so callers can persist/transmit both.
func (s *Signer) SignValue(v interface{}) (canonicalBytes, signature []byte, err error) {
	canonicalBytes, err = Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return canonicalBytes, s.Sign(canonicalBytes), nil
}

// Verify checks a signature over data against a raw 32-byte public key.
func Verify(pubKey ed25519.PublicKey, data, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pubKey, data, signature)
}
