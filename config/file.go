package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig captures the on-disk configuration layout.
type FileConfig struct {
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"logLevel"`
	Venue       VenueFileConfig `yaml:"venue"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// VenueFileConfig declares venue transport and subscription configuration.
type VenueFileConfig struct {
	RESTBaseURL      string            `yaml:"restBaseUrl"`
	WebsocketURL     string            `yaml:"websocketUrl"`
	HTTPTimeout      time.Duration     `yaml:"httpTimeout"`
	UserAckTimeout   time.Duration     `yaml:"userAckTimeout"`
	HeartbeatTimeout time.Duration     `yaml:"heartbeatTimeout"`
	Symbols          []string          `yaml:"symbols"`
	SymbolOverrides  map[string]string `yaml:"symbolOverrides"`
	QuoteAliases     map[string]string `yaml:"quoteAliases"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Load reads the YAML document at path and merges it over env-derived
// settings. Credentials never live in the file; they come from the
// environment only.
func Load(path string) (Settings, error) {
	cfg := FromEnv()

	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("MARKETSYNC_CONFIG")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(filepath.Clean(path)) // #nosec G304 -- configuration paths are controlled by operators.
	if err != nil {
		return Settings{}, fmt.Errorf("open config: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	raw, err := io.ReadAll(file)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	var doc FileConfig
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Settings{}, err
	}

	mergeFile(&cfg, doc)
	return cfg, nil
}

// Validate performs semantic validation on the loaded document.
func (c FileConfig) Validate() error {
	if c.Venue.HTTPTimeout < 0 || c.Venue.UserAckTimeout < 0 || c.Venue.HeartbeatTimeout < 0 {
		return fmt.Errorf("venue timeouts must be >=0")
	}
	for i, symbol := range c.Venue.Symbols {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("venue.symbols[%d]: symbol required", i)
		}
		if !strings.Contains(symbol, "-") {
			return fmt.Errorf("venue.symbols[%d]: %q is not BASE-QUOTE", i, symbol)
		}
	}
	for from, to := range c.Venue.QuoteAliases {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return fmt.Errorf("venue.quoteAliases: empty alias pair")
		}
	}
	if env := strings.ToLower(strings.TrimSpace(c.Environment)); env != "" {
		switch Environment(env) {
		case EnvDev, EnvStaging, EnvProd:
		default:
			return fmt.Errorf("environment must be dev|staging|prod, got %q", c.Environment)
		}
	}
	return nil
}

func mergeFile(cfg *Settings, doc FileConfig) {
	if env := strings.ToLower(strings.TrimSpace(doc.Environment)); env != "" {
		cfg.Environment = Environment(env)
	}
	if v := strings.TrimSpace(doc.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(doc.Venue.RESTBaseURL); v != "" {
		cfg.Venue.RESTBaseURL = v
	}
	if v := strings.TrimSpace(doc.Venue.WebsocketURL); v != "" {
		cfg.Venue.WebsocketURL = v
	}
	if doc.Venue.HTTPTimeout > 0 {
		cfg.Venue.HTTPTimeout = doc.Venue.HTTPTimeout
	}
	if doc.Venue.UserAckTimeout > 0 {
		cfg.Venue.UserAckTimeout = doc.Venue.UserAckTimeout
	}
	if doc.Venue.HeartbeatTimeout > 0 {
		cfg.Venue.HeartbeatTimeout = doc.Venue.HeartbeatTimeout
	}
	if len(doc.Venue.Symbols) > 0 {
		cfg.Venue.Symbols = append([]string(nil), doc.Venue.Symbols...)
	}
	if len(doc.Venue.SymbolOverrides) > 0 {
		cfg.Venue.SymbolOverrides = cloneStringMap(doc.Venue.SymbolOverrides)
	}
	if len(doc.Venue.QuoteAliases) > 0 {
		cfg.Venue.QuoteAliases = cloneStringMap(doc.Venue.QuoteAliases)
	}
	if v := strings.TrimSpace(doc.Telemetry.OTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(doc.Telemetry.ServiceName); v != "" {
		cfg.Telemetry.ServiceName = v
	}
}
