// Package token encodes a pending approval decision into a portable,
// tamper-evident string. The token is the only record of the decision:
// the server keeps no session keyed by it, so a decision can be resumed
// on any instance that shares the signing secret.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const version = "v1"

var (
	// ErrInvalid covers malformed, tampered, or foreign-keyed tokens.
	ErrInvalid = errors.New("invalid decision token")
	// ErrExpired marks a structurally valid token past its TTL.
	ErrExpired = errors.New("decision token expired")
	// ErrReplayed marks a token that has already completed an approve.
	ErrReplayed = errors.New("decision token already used")
)

// PendingDecision is the full state of a query awaiting human review.
// Regeneration never mutates one in place; it produces a new decision
// with Attempt incremented.
type PendingDecision struct {
	Username         string    `json:"username"`
	RawQuestion      string    `json:"raw_question"`
	ResolvedQuestion string    `json:"resolved_question"`
	CandidateQuery   string    `json:"candidate_query"`
	Attempt          int       `json:"attempt"`
	IssuedAt         time.Time `json:"issued_at"`
}

// Codec signs and verifies decision tokens. TTL <= 0 disables expiry.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl}
}

// Encode serializes d into `v1.<payload>.<mac>` with base64url segments.
func (c *Codec) Encode(d PendingDecision) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode decision: %w", err)
	}
	return version + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(c.sign(payload)), nil
}

// Decode verifies the integrity tag and expiry, then unpacks the decision.
func (c *Codec) Decode(s string) (PendingDecision, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 || parts[0] != version {
		return PendingDecision{}, ErrInvalid
	}

	// Strict decoding rejects non-zero trailing padding bits, so every
	// token string maps to exactly one byte sequence. Lenient decoding
	// would let several spellings of the same MAC verify, which breaks
	// both bit-flip rejection and single-use tracking.
	payload, err := base64.RawURLEncoding.Strict().DecodeString(parts[1])
	if err != nil {
		return PendingDecision{}, ErrInvalid
	}
	mac, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return PendingDecision{}, ErrInvalid
	}
	if !hmac.Equal(mac, c.sign(payload)) {
		return PendingDecision{}, ErrInvalid
	}

	var d PendingDecision
	if err := json.Unmarshal(payload, &d); err != nil {
		return PendingDecision{}, ErrInvalid
	}
	if d.Username == "" || d.CandidateQuery == "" {
		return PendingDecision{}, ErrInvalid
	}
	if c.ttl > 0 && time.Since(d.IssuedAt) > c.ttl {
		return PendingDecision{}, ErrExpired
	}
	return d, nil
}

// Fingerprint returns the token's decoded integrity tag, usable as a
// replay-guard key without retaining the payload. Keying on the decoded
// bytes rather than the presented string means respellings of the same
// MAC cannot mint a fresh key.
func (c *Codec) Fingerprint(s string) string {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return ""
	}
	mac, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return ""
	}
	return string(mac)
}

func (c *Codec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
