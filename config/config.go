// Package config centralises runtime configuration for marketsync services.
package config

import (
	"os"
	"strings"
	"time"
)

// Environment identifies the runtime environment where marketsync operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Credentials captures API credentials used for authenticated requests.
type Credentials struct {
	APIKey    string
	APISecret string
}

// VenueSettings aggregates transport and credential configuration for the
// Coinbase venue.
type VenueSettings struct {
	RESTBaseURL  string
	WebsocketURL string
	Credentials  Credentials

	HTTPTimeout      time.Duration
	UserAckTimeout   time.Duration
	HeartbeatTimeout time.Duration

	Symbols         []string
	SymbolOverrides map[string]string
	QuoteAliases    map[string]string
}

// Settings contains the configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment
	Venue       VenueSettings
	Telemetry   TelemetrySettings
	LogLevel    string
}

// TelemetrySettings configures the OTLP metrics exporter.
type TelemetrySettings struct {
	OTLPEndpoint string
	ServiceName  string
}

// Default returns the default configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Venue: VenueSettings{
			RESTBaseURL:      "https://api.coinbase.com/api/v3/brokerage",
			WebsocketURL:     "wss://advanced-trade-ws.coinbase.com",
			HTTPTimeout:      10 * time.Second,
			UserAckTimeout:   10 * time.Second,
			HeartbeatTimeout: 30 * time.Second,
			SymbolOverrides:  map[string]string{},
			QuoteAliases:     map[string]string{},
		},
		Telemetry: TelemetrySettings{
			ServiceName: "marketsync",
		},
		LogLevel: "info",
	}
}

// FromEnv loads configuration values from environment variables, overriding
// defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("MARKETSYNC_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("MARKETSYNC_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := strings.TrimSpace(os.Getenv("COINBASE_REST_BASE_URL")); v != "" {
		cfg.Venue.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COINBASE_WS_URL")); v != "" {
		cfg.Venue.WebsocketURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COINBASE_API_KEY")); v != "" {
		cfg.Venue.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("COINBASE_API_SECRET")); v != "" {
		cfg.Venue.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("COINBASE_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Venue.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("COINBASE_USER_ACK_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Venue.UserAckTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("COINBASE_HEARTBEAT_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Venue.HeartbeatTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETSYNC_SYMBOLS")); v != "" {
		cfg.Venue.Symbols = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("MARKETSYNC_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}

	return cfg
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base.clone()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithVenueEndpoints overrides the REST and websocket endpoints.
func WithVenueEndpoints(restURL, wsURL string) Option {
	restURL = strings.TrimSpace(restURL)
	wsURL = strings.TrimSpace(wsURL)
	return func(s *Settings) {
		if restURL != "" {
			s.Venue.RESTBaseURL = restURL
		}
		if wsURL != "" {
			s.Venue.WebsocketURL = wsURL
		}
	}
}

// WithVenueCredentials overrides the API credentials.
func WithVenueCredentials(key, secret string) Option {
	key = strings.TrimSpace(key)
	secret = strings.TrimSpace(secret)
	return func(s *Settings) {
		if key != "" {
			s.Venue.Credentials.APIKey = key
		}
		if secret != "" {
			s.Venue.Credentials.APISecret = secret
		}
	}
}

// WithSymbols sets the market-data subscription list.
func WithSymbols(symbols ...string) Option {
	return func(s *Settings) {
		if len(symbols) > 0 {
			s.Venue.Symbols = append([]string(nil), symbols...)
		}
	}
}

// WithQuoteAliases enables synthetic quote-currency aliasing.
func WithQuoteAliases(aliases map[string]string) Option {
	return func(s *Settings) {
		if len(aliases) > 0 {
			s.Venue.QuoteAliases = cloneStringMap(aliases)
		}
	}
}

func (s Settings) clone() Settings {
	out := s
	out.Venue.Symbols = append([]string(nil), s.Venue.Symbols...)
	out.Venue.SymbolOverrides = cloneStringMap(s.Venue.SymbolOverrides)
	out.Venue.QuoteAliases = cloneStringMap(s.Venue.QuoteAliases)
	return out
}

func cloneStringMap(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
