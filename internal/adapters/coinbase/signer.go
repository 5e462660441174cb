package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/marketsync/errs"
)

// tokenValidity bounds how long a signed credential remains usable.
const tokenValidity = 60 * time.Second

// Token is a short-lived signed credential bound to one request or channel.
type Token struct {
	CredentialID string
	Timestamp    string
	Nonce        string
	Signature    string
	ExpiresAt    time.Time
}

// Expired reports whether the token is past its validity window.
func (t Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Signer produces signed tokens for REST requests and channel subscriptions.
// It is a pure function of the key material, the clock, and the nonce source,
// and is safe for concurrent use.
type Signer struct {
	credentialID string
	key          []byte
	clock        func() time.Time
	nonce        func() string
}

// NewSigner parses the base64 signing secret and returns a ready signer.
// A credential error is returned when the key material cannot be parsed.
func NewSigner(credentialID, secret string, clock func() time.Time) (*Signer, error) {
	credentialID = strings.TrimSpace(credentialID)
	secret = strings.TrimSpace(secret)
	if credentialID == "" || secret == "" {
		return nil, errs.New(Venue, errs.CodeCredential, errs.WithMessage("api key and secret required"))
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, errs.New(Venue, errs.CodeCredential,
			errs.WithMessage("signing secret is not valid base64"),
			errs.WithCause(err))
	}
	if clock == nil {
		clock = time.Now
	}
	return &Signer{
		credentialID: credentialID,
		key:          key,
		clock:        clock,
		nonce:        func() string { return uuid.NewString() },
	}, nil
}

// Sign produces a token over scope and payload. Scope is either METHOD+path
// for REST calls or channel+product-list for subscriptions.
func (s *Signer) Sign(scope, payload string) (Token, error) {
	now := s.clock().UTC()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	nonce := s.nonce()

	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write([]byte(timestamp + nonce + scope + payload)); err != nil {
		return Token{}, errs.New(Venue, errs.CodeCredential,
			errs.WithMessage("signature operation failed"),
			errs.WithCause(err))
	}

	return Token{
		CredentialID: s.credentialID,
		Timestamp:    timestamp,
		Nonce:        nonce,
		Signature:    base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:    now.Add(tokenValidity),
	}, nil
}
