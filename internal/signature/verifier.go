package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrSignatureInvalid rejects an inbound webhook before any processing.
// Handlers must translate it to an HTTP 401 and never enqueue the payload.
var ErrSignatureInvalid = errors.New("signature: invalid")

// VerifySimple checks a single-secret HMAC-SHA256 hex digest against the
// header value. The comparison is constant-time over equal-length inputs;
// a length mismatch is rejected up front without comparing so mismatched
// lengths neither leak timing nor trip the constant-time compare.
func VerifySimple(payload []byte, signatureHex string, secret []byte) bool {
	if signatureHex == "" || len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if len(want) != len(signatureHex) {
		return false
	}
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signatureHex)))
}

// Secrets holds the per-event-category delivery secrets for the composite
// scheme. Secret selection fails closed: an event type outside the known
// prefixes never verifies.
type Secrets struct {
	Call    string
	Summary string
	Message string
}

// Candidate describes one canonicalization of (timestamp, body) tried by
// the composite verifier. The upstream service does not document its exact
// signing input, so the accepted forms are data, not code: deployments
// should narrow Candidates once the real canonicalization is confirmed.
type Candidate struct {
	// Separator sits between timestamp and body ("" or ".").
	Separator string
	// DecodeSecret base64-decodes the secret before keying the HMAC.
	DecodeSecret bool
}

// DefaultCandidates are the four forms observed against the live service.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{Separator: "", DecodeSecret: false},
		{Separator: ".", DecodeSecret: false},
		{Separator: "", DecodeSecret: true},
		{Separator: ".", DecodeSecret: true},
	}
}

// Verifier validates composite telephony signatures of the form
//
//	hmac;<version>;<timestamp>;<base64 signature>
//
// with the secret selected by event-type prefix.
type Verifier struct {
	secrets    Secrets
	candidates []Candidate
}

func NewVerifier(secrets Secrets, candidates []Candidate) *Verifier {
	if len(candidates) == 0 {
		candidates = DefaultCandidates()
	}
	return &Verifier{secrets: secrets, candidates: candidates}
}

// Verify checks header against body for the given event type. On success it
// returns the index of the matching candidate so callers can log which
// canonicalization the upstream service actually uses.
func (v *Verifier) Verify(header string, body []byte, eventType string) (matched int, err error) {
	parts := strings.Split(header, ";")
	if len(parts) != 4 {
		return -1, fmt.Errorf("%w: expected 4 header fields, got %d", ErrSignatureInvalid, len(parts))
	}
	if parts[0] != "hmac" {
		return -1, fmt.Errorf("%w: unsupported scheme %q", ErrSignatureInvalid, parts[0])
	}
	timestamp := parts[2]
	sig, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return -1, fmt.Errorf("%w: signature is not base64", ErrSignatureInvalid)
	}

	secret, err := v.secretFor(eventType)
	if err != nil {
		return -1, err
	}

	for i, c := range v.candidates {
		key := []byte(secret)
		if c.DecodeSecret {
			decoded, err := base64.StdEncoding.DecodeString(secret)
			if err != nil {
				continue
			}
			key = decoded
		}
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(timestamp))
		if c.Separator != "" {
			mac.Write([]byte(c.Separator))
		}
		mac.Write(body)
		if hmac.Equal(mac.Sum(nil), sig) {
			return i, nil
		}
	}
	return -1, ErrSignatureInvalid
}

// secretFor selects the delivery secret by event-type prefix. The summary
// prefix must be checked before the general call prefix.
func (v *Verifier) secretFor(eventType string) (string, error) {
	var secret string
	switch {
	case strings.HasPrefix(eventType, "call.summary"):
		secret = v.secrets.Summary
	case strings.HasPrefix(eventType, "call."):
		secret = v.secrets.Call
	case strings.HasPrefix(eventType, "message."):
		secret = v.secrets.Message
	default:
		return "", fmt.Errorf("%w: no secret for event type %q", ErrSignatureInvalid, eventType)
	}
	if secret == "" {
		return "", fmt.Errorf("%w: secret not configured for event type %q", ErrSignatureInvalid, eventType)
	}
	return secret, nil
}
