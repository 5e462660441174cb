// Package coinbase implements the venue adapter for the Coinbase Advanced
// Trade feed and REST API.
package coinbase

import (
	"strings"
	"time"
)

// Venue is the adapter identifier used in error envelopes and logs.
const Venue = "coinbase"

const (
	defaultRESTBaseURL  = "https://api.coinbase.com/api/v3/brokerage"
	defaultWebsocketURL = "wss://advanced-trade-ws.coinbase.com"

	// Documented venue limits: 30 REST requests per second per key and 8
	// control frames per second per websocket connection.
	defaultRESTBurst        = 30
	defaultRESTInterval     = time.Second / 30
	defaultControlBurst     = 8
	defaultControlInterval  = time.Second / 8
	defaultHTTPTimeout      = 10 * time.Second
	defaultUserAckTimeout   = 10 * time.Second
	defaultHeartbeatTimeout = 30 * time.Second
)

// Options configure the adapter runtime.
type Options struct {
	RESTBaseURL  string
	WebsocketURL string
	APIKey       string
	APISecret    string

	HTTPTimeout      time.Duration
	UserAckTimeout   time.Duration
	HeartbeatTimeout time.Duration

	RESTBurst       int
	RESTInterval    time.Duration
	ControlBurst    int
	ControlInterval time.Duration

	SymbolOverrides map[string]string
	QuoteAliases    map[string]string

	Clock func() time.Time
}

// Option mutates Options.
type Option func(*Options)

// WithCredentials sets the API key pair used for signing.
func WithCredentials(key, secret string) Option {
	return func(o *Options) {
		o.APIKey = strings.TrimSpace(key)
		o.APISecret = strings.TrimSpace(secret)
	}
}

// WithEndpoints overrides the REST and websocket base URLs.
func WithEndpoints(restURL, wsURL string) Option {
	return func(o *Options) {
		if trimmed := strings.TrimSpace(restURL); trimmed != "" {
			o.RESTBaseURL = trimmed
		}
		if trimmed := strings.TrimSpace(wsURL); trimmed != "" {
			o.WebsocketURL = trimmed
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

// WithSymbolOverrides sets explicit local→venue product id mappings for
// symbols whose venue spelling differs from the canonical form.
func WithSymbolOverrides(overrides map[string]string) Option {
	return func(o *Options) {
		o.SymbolOverrides = overrides
	}
}

// WithQuoteAliases enables synthetic quote-currency aliasing, e.g.
// {"USD": "USDC"} re-emits every X-USD event under X-USDC as well.
func WithQuoteAliases(aliases map[string]string) Option {
	return func(o *Options) {
		o.QuoteAliases = aliases
	}
}

// WithHeartbeatTimeout sets how long the liveness channel may stay silent
// before a staleness warning is raised.
func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.HeartbeatTimeout = timeout
		}
	}
}

// WithUserAckTimeout bounds the wait for the private-channel acknowledgement.
func WithUserAckTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.UserAckTimeout = timeout
		}
	}
}

func defaultOptions() Options {
	return Options{
		RESTBaseURL:      defaultRESTBaseURL,
		WebsocketURL:     defaultWebsocketURL,
		HTTPTimeout:      defaultHTTPTimeout,
		UserAckTimeout:   defaultUserAckTimeout,
		HeartbeatTimeout: defaultHeartbeatTimeout,
		RESTBurst:        defaultRESTBurst,
		RESTInterval:     defaultRESTInterval,
		ControlBurst:     defaultControlBurst,
		ControlInterval:  defaultControlInterval,
		Clock:            time.Now,
	}
}

func buildOptions(opts ...Option) Options {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}
