package proof

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stepmesh/proof-engine/pkg/models"
)

// TimestampLayout is the only accepted timestamp form: ISO-8601 with
// milliseconds, UTC, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrBadVersion reports a payload whose version string is not exactly
	// one of the supported schemas.
	ErrBadVersion = errors.New("unsupported proof version")
	// ErrMissingField reports a structurally incomplete payload.
	ErrMissingField = errors.New("missing payload field")
	// ErrBadNumber reports a numeric field that does not round-trip as a
	// finite decimal.
	ErrBadNumber = errors.New("numeric field does not round-trip")
	// ErrBadTimestamp reports a timestamp outside the pinned layout.
	ErrBadTimestamp = errors.New("timestamp is not ISO-8601 milliseconds UTC")
)

// CanonicalMessage re-assembles the byte-exact signable string from a
// payload:
//
//	{version}|account:{a}|triangle:{t}|lat:{lat}|lon:{lon}|acc:{acc}|ts:{ts}|nonce:{n}
//
// Numeric fields are the client's own text, carried through json.Number; the
// server never re-formats them, it only validates that they parse as finite
// decimals in range.
func CanonicalMessage(p *models.ProofPayload) (string, error) {
	if p.Version != models.ProofVersionV1 && p.Version != models.ProofVersionV2 {
		return "", fmt.Errorf("%w: %q", ErrBadVersion, p.Version)
	}
	lat, lon, acc := p.Position()
	for name, field := range map[string]string{
		"account":   p.Account,
		"triangle":  p.TriangleID,
		"lat":       lat.String(),
		"lon":       lon.String(),
		"acc":       acc.String(),
		"timestamp": p.Timestamp,
		"nonce":     p.Nonce,
	} {
		if field == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if _, err := ParseCoordinate(lat, -90, 90); err != nil {
		return "", fmt.Errorf("lat: %w", err)
	}
	if _, err := ParseCoordinate(lon, -180, 180); err != nil {
		return "", fmt.Errorf("lon: %w", err)
	}
	if _, err := ParseCoordinate(acc, 0, math.MaxFloat64); err != nil {
		return "", fmt.Errorf("acc: %w", err)
	}
	if _, err := ParseTimestamp(p.Timestamp); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(p.Version)
	b.WriteString("|account:")
	b.WriteString(p.Account)
	b.WriteString("|triangle:")
	b.WriteString(p.TriangleID)
	b.WriteString("|lat:")
	b.WriteString(lat.String())
	b.WriteString("|lon:")
	b.WriteString(lon.String())
	b.WriteString("|acc:")
	b.WriteString(acc.String())
	b.WriteString("|ts:")
	b.WriteString(p.Timestamp)
	b.WriteString("|nonce:")
	b.WriteString(p.Nonce)
	return b.String(), nil
}

// ParseCoordinate validates a client-supplied numeric text and returns its
// float value. Exponents, NaN, infinities and out-of-range values are
// rejected so the signable text stays a plain decimal.
func ParseCoordinate(n json.Number, min, max float64) (float64, error) {
	s := n.String()
	if strings.ContainsAny(s, "eE") {
		return 0, fmt.Errorf("%w: exponent in %q", ErrBadNumber, s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%w: %q out of range [%g, %g]", ErrBadNumber, s, min, max)
	}
	return v, nil
}

// ParseTimestamp validates the pinned timestamp layout.
func ParseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, ts)
	}
	return t, nil
}
