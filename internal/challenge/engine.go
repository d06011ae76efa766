package challenge

import (
	"container/list"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/google/uuid"
)

const (
	defaultChallengeTTL = 10 * time.Minute
	defaultTokenTTL      = 300 * time.Second
	maxTokenTTL          = 15 * time.Minute
	usedJtiLRUCapacity   = 200_000
)

// Typed verification failures (spec §4.4's failure model).
var (
	ErrExpired             = errors.New("challenge: expired")
	ErrIPMismatch          = errors.New("challenge: ip mismatch")
	ErrFingerprintMismatch = errors.New("challenge: fingerprint mismatch")
	ErrReplayedJti         = errors.New("challenge: replayed jti")
	ErrBadSignature        = errors.New("challenge: bad signature")
	ErrMalformed           = errors.New("challenge: malformed")
	ErrAlreadyUsed         = errors.New("challenge: id already used")
)

// pendingChallenge is the server-side record created at Issue time.
type pendingChallenge struct {
	id            string
	nonce         string
	difficulty    int
	issueTime     time.Time
	ipHash        string
	fingerprintHash string
	state         State
}

// Issued is what's returned to the client: the payload it must solve.
type Issued struct {
	ID         string
	Nonce      string
	Difficulty int
	IssueTime  time.Time
}

// TokenClaims is the canonical-JSON payload signed to produce a token.
type TokenClaims struct {
	Jti             string `json:"jti"`
	Typ             string `json:"typ"`
	Iat             int64  `json:"iat"`
	Exp             int64  `json:"exp"`
	IPHash          string `json:"ip_hash"`
	FingerprintHash string `json:"fingerprint_hash"`
	Nonce           string `json:"nonce"`
}

// Token is the signed, opaque blob handed to the client.
type Token struct {
	Claims    TokenClaims
	Signature []byte
}

// Engine implements Issue/Verify for C4.
type Engine struct {
	mu         sync.Mutex
	pending    map[string]*pendingChallenge
	usedJtis   *list.List
	usedIndex  map[string]*list.Element
	signer     *canonical.Signer
	baseDiff   int
	maxDiff    int
	tokenTTL   time.Duration
	ipSalt     []byte
}

// NewEngine constructs a challenge engine that signs tokens with the
// provided signer.
func NewEngine(signer *canonical.Signer, baseDifficulty, maxDifficulty int, tokenTTL time.Duration, ipSalt []byte) *Engine {
	if tokenTTL <= 0 || tokenTTL > maxTokenTTL {
		tokenTTL = defaultTokenTTL
	}
	return &Engine{
		pending:   make(map[string]*pendingChallenge),
		usedJtis:  list.New(),
		usedIndex: make(map[string]*list.Element),
		signer:    signer,
		baseDiff:  baseDifficulty,
		maxDiff:   maxDifficulty,
		tokenTTL:  tokenTTL,
		ipSalt:    ipSalt,
	}
}

// PublicKey returns the Ed25519 public key tokens are signed with, so a
// caller holding only the Engine can verify tokens minted by it.
func (e *Engine) PublicKey() ed25519.PublicKey {
	return e.signer.PublicKey()
}

// CurrentDifficulty returns the difficulty to use for new challenges;
// raisedFraction in [0,1] represents the recent Suspicious-verdict rate and
// linearly scales between base and max difficulty (spec's "may be raised
// adaptively when Suspicious rate spikes").
func (e *Engine) CurrentDifficulty(raisedFraction float64) int {
	if raisedFraction <= 0 {
		return e.baseDiff
	}
	if raisedFraction > 1 {
		raisedFraction = 1
	}
	span := float64(e.maxDiff - e.baseDiff)
	return e.baseDiff + int(span*raisedFraction)
}

// Issue creates a new challenge bound to clientIP and fingerprint.
func (e *Engine) Issue(clientIP netip.Addr, fingerprint string, difficulty int) (*Issued, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := time.Now()

	e.mu.Lock()
	e.pending[id] = &pendingChallenge{
		id:              id,
		nonce:           nonce,
		difficulty:      difficulty,
		issueTime:       now,
		ipHash:          e.hashIP(clientIP),
		fingerprintHash: hashFingerprint(fingerprint),
		state:           StateIssued,
	}
	e.mu.Unlock()

	return &Issued{ID: id, Nonce: nonce, Difficulty: difficulty, IssueTime: now}, nil
}

// Verify checks a submitted PoW solution and fingerprint against the
// pending challenge id, and on success mints a signed Token.
func (e *Engine) Verify(id, solution string, clientIP netip.Addr, fingerprint string) (*Token, error) {
	e.mu.Lock()
	pc, ok := e.pending[id]
	if !ok {
		e.mu.Unlock()
		return nil, ErrMalformed
	}
	if pc.state != StateIssued {
		e.mu.Unlock()
		return nil, ErrAlreadyUsed
	}
	if time.Since(pc.issueTime) > defaultChallengeTTL {
		pc.state = StateExpired
		e.mu.Unlock()
		return nil, ErrExpired
	}
	if pc.ipHash != e.hashIP(clientIP) {
		e.mu.Unlock()
		return nil, ErrIPMismatch
	}
	if pc.fingerprintHash != hashFingerprint(fingerprint) {
		e.mu.Unlock()
		return nil, ErrFingerprintMismatch
	}
	if !CheckPoW(pc.nonce, solution, pc.difficulty) {
		e.mu.Unlock()
		return nil, ErrMalformed
	}
	pc.state = StateSolved
	e.mu.Unlock()

	token, err := e.mintToken(pc)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	pc.state = StateTokenIssued
	delete(e.pending, id) // lifetime invariant: exactly one token per solved challenge
	e.mu.Unlock()

	return token, nil
}

func (e *Engine) mintToken(pc *pendingChallenge) (*Token, error) {
	now := time.Now()
	claims := TokenClaims{
		Jti:             uuid.NewString(),
		Typ:             "aegis-challenge",
		Iat:             now.Unix(),
		Exp:             now.Add(e.tokenTTL).Unix(),
		IPHash:          pc.ipHash,
		FingerprintHash: pc.fingerprintHash,
		Nonce:           pc.nonce,
	}
	canonicalBytes, sig, err := e.signer.SignValue(claims)
	if err != nil {
		return nil, fmt.Errorf("challenge: sign token: %w", err)
	}
	_ = canonicalBytes
	return &Token{Claims: claims, Signature: sig}, nil
}

// VerifyToken checks a previously-minted token's signature, expiry, single-use
// status, and IP/fingerprint bindings. pubKey is the issuer's Ed25519 public
// key (32 bytes).
func (e *Engine) VerifyToken(tok *Token, pubKey []byte, clientIP netip.Addr, fingerprint string) error {
	canonicalBytes, err := canonical.Marshal(tok.Claims)
	if err != nil {
		return ErrMalformed
	}
	if !canonical.Verify(pubKey, canonicalBytes, tok.Signature) {
		return ErrBadSignature
	}
	if time.Now().Unix() > tok.Claims.Exp {
		return ErrExpired
	}
	if tok.Claims.IPHash != e.hashIP(clientIP) {
		return ErrIPMismatch
	}
	if tok.Claims.FingerprintHash != hashFingerprint(fingerprint) {
		return ErrFingerprintMismatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.usedIndex[tok.Claims.Jti]; seen {
		return ErrReplayedJti
	}
	el := e.usedJtis.PushFront(tok.Claims.Jti)
	e.usedIndex[tok.Claims.Jti] = el
	if e.usedJtis.Len() > usedJtiLRUCapacity {
		oldest := e.usedJtis.Back()
		if oldest != nil {
			e.usedJtis.Remove(oldest)
			delete(e.usedIndex, oldest.Value.(string))
		}
	}
	return nil
}

// SweepExpired removes pending challenges past their TTL, run by a
// background loop (spec §9 "background loops").
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	swept := 0
	for id, pc := range e.pending {
		if time.Since(pc.issueTime) > defaultChallengeTTL {
			delete(e.pending, id)
			swept++
		}
	}
	return swept
}

func (e *Engine) hashIP(addr netip.Addr) string {
	h := sha256.New()
	h.Write(e.ipSalt)
	h.Write(addr.AsSlice())
	return hex.EncodeToString(h.Sum(nil))
}

func hashFingerprint(fp string) string {
	sum := sha256.Sum256([]byte(fp))
	return hex.EncodeToString(sum[:])
}
