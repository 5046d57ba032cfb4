// Package attest verifies platform integrity tokens attached to proofs.
//
// Token issuance is external: the mobile client obtains a token from its
// platform vendor and forwards it inside the proof. The engine only consumes
// verdicts through the Verifier interface, so deployments can swap vendors
// or stub the check entirely in tests.
package attest

import (
	"context"
	"time"
)

// Platform identifiers carried in v2 payloads.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

// Verdict is the outcome of one token verification. A failed verdict is not
// an error: transport and service failures surface as errors and degrade to
// zero attestation points, while Passed=false is an authoritative negative.
type Verdict struct {
	Passed     bool      `json:"passed"`
	Reason     string    `json:"reason,omitempty"`
	Platform   string    `json:"platform"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Verifier validates one platform's integrity token.
type Verifier interface {
	// Verify checks token authenticity, the bound application identity
	// and, where the platform embeds one, the challenge nonce.
	Verify(ctx context.Context, token, expectedAppID, nonce string) (*Verdict, error)
}

// Registry dispatches by platform name.
type Registry map[string]Verifier

// Lookup returns the verifier for a platform, or nil.
func (r Registry) Lookup(platform string) Verifier {
	if r == nil {
		return nil
	}
	return r[platform]
}
