package attest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AppAttestVerifier validates the iOS-style attestation token: an opaque
// binary blob checked against the vendor's verification service. The service
// echoes back the bound bundle identifier and the challenge it saw; both are
// checked locally, the challenge within a five-minute freshness window.
type AppAttestVerifier struct {
	client     *http.Client
	serviceURL string
}

// ChallengeWindow is the maximum accepted age of the embedded challenge.
const ChallengeWindow = 5 * time.Minute

// NewAppAttestVerifier wires the verifier with its own short-timeout client.
func NewAppAttestVerifier(serviceURL string, timeout time.Duration) *AppAttestVerifier {
	return &AppAttestVerifier{
		client:     &http.Client{Timeout: timeout},
		serviceURL: serviceURL,
	}
}

type attestServiceResponse struct {
	Valid     bool   `json:"valid"`
	BundleID  string `json:"bundleId"`
	Challenge string `json:"challenge"`
	IssuedAt  string `json:"issuedAt"` // RFC 3339
	Reason    string `json:"reason,omitempty"`
}

// Verify implements Verifier. Transport and service errors are returned as
// errors so the caller can degrade to zero points instead of rejecting.
func (v *AppAttestVerifier) Verify(ctx context.Context, token, expectedAppID, nonce string) (*Verdict, error) {
	if _, err := base64.StdEncoding.DecodeString(token); err != nil {
		return v.fail("token is not base64"), nil
	}
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.serviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attestation service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attestation service returned %d", resp.StatusCode)
	}
	var sr attestServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding attestation response: %w", err)
	}
	return v.evaluate(&sr, expectedAppID, nonce, time.Now().UTC()), nil
}

func (v *AppAttestVerifier) evaluate(sr *attestServiceResponse, expectedAppID, nonce string, now time.Time) *Verdict {
	if !sr.Valid {
		reason := sr.Reason
		if reason == "" {
			reason = "attestation rejected by service"
		}
		return v.fail(reason)
	}
	if sr.BundleID != expectedAppID {
		return v.fail(fmt.Sprintf("bundle %q is not the expected application", sr.BundleID))
	}
	if sr.Challenge != nonce {
		return v.fail("challenge nonce mismatch")
	}
	issued, err := time.Parse(time.RFC3339, sr.IssuedAt)
	if err != nil {
		return v.fail("attestation has no usable issue time")
	}
	if age := now.Sub(issued); age < 0 || age > ChallengeWindow {
		return v.fail("challenge outside the freshness window")
	}
	return &Verdict{Passed: true, Platform: PlatformIOS, VerifiedAt: now}
}

func (v *AppAttestVerifier) fail(reason string) *Verdict {
	return &Verdict{Passed: false, Reason: reason, Platform: PlatformIOS, VerifiedAt: time.Now().UTC()}
}
