package engine

import "net/http"

// Code is a rejection kind. Codes are part of the public contract and are
// surfaced verbatim in responses.
type Code string

const (
	CodeInvalidPayload      Code = "InvalidPayload"
	CodeBadSignature        Code = "BadSignature"
	CodeOutOfBounds         Code = "OutOfBounds"
	CodeLowGpsAccuracy      Code = "LowGpsAccuracy"
	CodeLowConfidence       Code = "LowConfidence"
	CodeAttestationRequired Code = "AttestationRequired"
	CodeAttestationFailed   Code = "AttestationFailed"
	CodeNonceReplay         Code = "NonceReplay"
	CodeTooFast             Code = "TooFast"
	CodeMoratorium          Code = "Moratorium"
	CodeTriangleNotFound    Code = "TriangleNotFound"
	CodeInternalError       Code = "InternalError"
)

// Rejection is a tagged proof rejection. LowConfidence rejections carry the
// achieved confidence and per-signal reasons.
type Rejection struct {
	Code       Code     `json:"code"`
	Message    string   `json:"message"`
	Confidence int      `json:"confidence,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Message
}

func reject(code Code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// HTTPStatus maps a rejection code to its response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidPayload:
		return http.StatusBadRequest
	case CodeBadSignature:
		return http.StatusUnauthorized
	case CodeTriangleNotFound:
		return http.StatusNotFound
	case CodeNonceReplay:
		return http.StatusConflict
	case CodeOutOfBounds, CodeLowGpsAccuracy, CodeTooFast, CodeMoratorium,
		CodeLowConfidence, CodeAttestationRequired, CodeAttestationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
