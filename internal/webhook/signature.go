// Package webhook verifies and dispatches crawler callbacks: page events
// fan out into queued indexing batches, lifecycle events drive crawl
// session state, and change notifications trigger rescrapes.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

// signaturePattern is the only accepted header shape.
var signaturePattern = regexp.MustCompile(`^sha256=[0-9a-f]{64}$`)

// VerifySignature checks an HMAC-SHA256 signature header against the raw
// request body. Error codes map to HTTP statuses upstream: InvalidInput
// for a malformed header (400), SignatureFailure for a missing header or
// digest mismatch (401), Internal for an unconfigured secret (500).
// The mismatch message never reveals which part failed.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return apperr.New(apperr.CodeInternal, "webhook secret not configured", nil)
	}
	if header == "" {
		return apperr.New(apperr.CodeSignatureFailure, "invalid webhook signature", nil)
	}
	if !signaturePattern.MatchString(header) {
		return apperr.New(apperr.CodeInvalidInput, "malformed signature header", nil)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal is constant-time; both sides are fixed-length hex here so
	// length leaks nothing.
	if !hmac.Equal([]byte(expected), []byte(header[len("sha256="):])) {
		return apperr.New(apperr.CodeSignatureFailure, "invalid webhook signature", nil)
	}
	return nil
}

// Sign computes the signature header value for a body. Used by tests and
// by the rescrape integration harness.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
