package attest

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// IntegrityVerifier validates the Android-style integrity service token: a
// JWT signed by the vendor, verified against the vendor's published JWKS.
// The verdict requires the bound package name to match and both the device
// and app recognition verdicts to come from the allowed sets.
type IntegrityVerifier struct {
	jwks          *keyfunc.JWKS
	allowedDevice map[string]bool
	allowedApp    map[string]bool
}

// Default allowed verdict sets. MEETS_STRONG_INTEGRITY implies a hardware
// backed check; basic integrity alone (emulators often reach it) does not
// qualify.
var (
	defaultAllowedDevice = []string{"MEETS_DEVICE_INTEGRITY", "MEETS_STRONG_INTEGRITY"}
	defaultAllowedApp    = []string{"PLAY_RECOGNIZED"}
)

// NewIntegrityVerifier starts a JWKS-backed verifier. The key set refreshes
// in the background; a fetch failure here is fatal because every later
// verification would fail anyway.
func NewIntegrityVerifier(jwksURL string) (*IntegrityVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching integrity JWKS: %w", err)
	}
	v := &IntegrityVerifier{jwks: jwks}
	v.setAllowed(defaultAllowedDevice, defaultAllowedApp)
	return v, nil
}

func (v *IntegrityVerifier) setAllowed(device, app []string) {
	v.allowedDevice = make(map[string]bool, len(device))
	for _, d := range device {
		v.allowedDevice[d] = true
	}
	v.allowedApp = make(map[string]bool, len(app))
	for _, a := range app {
		v.allowedApp[a] = true
	}
}

// Verify implements Verifier.
func (v *IntegrityVerifier) Verify(ctx context.Context, token, expectedAppID, nonce string) (*Verdict, error) {
	parsed, err := jwt.Parse(token, v.jwks.Keyfunc)
	if err != nil {
		// An unparseable or badly signed token is an authoritative
		// failure, not a transport problem.
		return v.fail(fmt.Sprintf("token verification failed: %v", err)), nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return v.fail("token claims unreadable"), nil
	}
	return v.evaluate(claims, expectedAppID, nonce), nil
}

// evaluate applies the verdict policy to already-authenticated claims.
func (v *IntegrityVerifier) evaluate(claims jwt.MapClaims, expectedAppID, nonce string) *Verdict {
	if pkg := nestedString(claims, "requestDetails", "requestPackageName"); pkg != expectedAppID {
		return v.fail(fmt.Sprintf("package %q is not the expected application", pkg))
	}
	if nonce != "" {
		if got := nestedString(claims, "requestDetails", "nonce"); got != nonce {
			return v.fail("challenge nonce mismatch")
		}
	}
	device := nestedStrings(claims, "deviceIntegrity", "deviceRecognitionVerdict")
	if !anyAllowed(device, v.allowedDevice) {
		return v.fail(fmt.Sprintf("device integrity verdict %v not allowed", device))
	}
	if app := nestedString(claims, "appIntegrity", "appRecognitionVerdict"); !v.allowedApp[app] {
		return v.fail(fmt.Sprintf("app integrity verdict %q not allowed", app))
	}
	return &Verdict{Passed: true, Platform: PlatformAndroid, VerifiedAt: time.Now().UTC()}
}

func (v *IntegrityVerifier) fail(reason string) *Verdict {
	return &Verdict{Passed: false, Reason: reason, Platform: PlatformAndroid, VerifiedAt: time.Now().UTC()}
}

func anyAllowed(verdicts []string, allowed map[string]bool) bool {
	for _, verdict := range verdicts {
		if allowed[verdict] {
			return true
		}
	}
	return false
}

func nestedString(claims jwt.MapClaims, outer, inner string) string {
	m, ok := claims[outer].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[inner].(string)
	return s
}

func nestedStrings(claims jwt.MapClaims, outer, inner string) []string {
	m, ok := claims[outer].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m[inner].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
