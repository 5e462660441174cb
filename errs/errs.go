// Package errs provides structured error types shared across marketsync.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a failure category produced by the sync engine.
type Code string

const (
	// CodeCredential indicates the signing key could not be parsed or used.
	// Fatal to the affected request, never to the connection.
	CodeCredential Code = "credential"
	// CodeRequestFailed indicates a REST business or HTTP failure. Callers must
	// not assume retryability.
	CodeRequestFailed Code = "request_failed"
	// CodeSequenceGap indicates one or more feed messages were lost.
	CodeSequenceGap Code = "sequence_gap"
	// CodeBookNotReady indicates a delta arrived before any snapshot.
	CodeBookNotReady Code = "book_not_ready"
	// CodeSubscriptionTimeout indicates the private channel acknowledgement
	// was not observed within the subscription window.
	CodeSubscriptionTimeout Code = "subscription_timeout"
	// CodeParse indicates an inbound frame could not be decoded.
	CodeParse Code = "parse"
	// CodeNetwork indicates a transport-level failure.
	CodeNetwork Code = "network"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E captures structured error information produced across the marketsync stack.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and failure code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue: strings.TrimSpace(venue),
		Code:  code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the venue's machine-readable reason code. For REST
// failures this code, not the HTTP status, drives caller-level handling.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err is an *E carrying the given code.
func HasCode(err error, code Code) bool {
	e, ok := err.(*E)
	return ok && e.Code == code
}
