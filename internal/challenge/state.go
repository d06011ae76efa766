// Package challenge implements C4: PoW + browser-fingerprint challenge
// issuance and Ed25519-signed, single-use token verification. The
// Absent->Issued->Solved->TokenIssued->Expired state machine and the
// used-jti replay bookkeeping are grounded on
// internal/security/token_broker.go, adapted from HMAC to Ed25519 signing
// per spec I14 and from agent-permission claims to IP/fingerprint-bound
// challenge claims.
package challenge

import "fmt"

// State is a challenge's position in its lifecycle.
type State string

const (
	StateAbsent      State = "absent"
	StateIssued      State = "issued"
	StateSolved      State = "solved"
	StateTokenIssued State = "token_issued"
	StateExpired     State = "expired"
)

var validTransitions = map[State][]State{
	StateAbsent: {StateIssued},
	StateIssued: {StateSolved, StateExpired},
	StateSolved: {StateTokenIssued, StateExpired},
}

// transition validates and returns the next state, or an error if the move
// is not allowed from the current state.
func transition(from, to State) (State, error) {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("challenge: invalid transition %s -> %s", from, to)
}
