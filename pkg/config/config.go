// Package config resolves per-client configuration for the cache and
// rate-limit engine. Configuration is loaded once at startup into an
// immutable Registry; components receive resolved ClientConfig records
// and never look clients up by string at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// ErrUnknownClient is returned when a client name has no configuration.
// An unknown client must fail fast, never fall back to defaults.
var ErrUnknownClient = errors.New("unknown client")

// Duration wraps time.Duration so YAML values like "5m" or "90s" parse
// directly into config fields.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ClientConfig holds the resolved configuration for one upstream API client.
// Instances are immutable once loaded.
type ClientConfig struct {
	// Name is the client identifier used to namespace cache and
	// rate-limit state.
	Name string `yaml:"-"`

	// APIKey authenticates against the upstream API.
	APIKey string `yaml:"api_key"`

	// BaseURL is the upstream API root (e.g. "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	// Version is the API version segment included in cache keys and URLs.
	Version string `yaml:"version"`

	// CacheTTL is the default lifetime of cached responses.
	// Nil means cached responses never expire.
	CacheTTL *Duration `yaml:"cache_ttl"`

	// CompressionEnabled toggles at-rest compression of cached
	// response headers and bodies.
	CompressionEnabled bool `yaml:"compression_enabled"`

	// MaxRequests is the request quota per rate-limit window.
	MaxRequests int `yaml:"max_requests"`

	// DecaySeconds is the fixed rate-limit window length in seconds.
	DecaySeconds int `yaml:"decay_seconds"`

	// DefaultEndpoint is used when a caller supplies no endpoint.
	DefaultEndpoint string `yaml:"default_endpoint"`
}

// TTL returns the default cache TTL as a *time.Duration.
// Nil means "never expires".
func (c *ClientConfig) TTL() *time.Duration {
	if c.CacheTTL == nil {
		return nil
	}
	ttl := c.CacheTTL.Duration
	return &ttl
}

// Window returns the rate-limit window length.
func (c *ClientConfig) Window() time.Duration {
	return time.Duration(c.DecaySeconds) * time.Second
}

// Validate checks a client configuration for obvious mistakes.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("client %q: base_url is required", c.Name)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("client %q: max_requests must be positive (got %d)", c.Name, c.MaxRequests)
	}
	if c.DecaySeconds <= 0 {
		return fmt.Errorf("client %q: decay_seconds must be positive (got %d)", c.Name, c.DecaySeconds)
	}
	if c.CacheTTL != nil && c.CacheTTL.Duration <= 0 {
		return fmt.Errorf("client %q: cache_ttl must be positive when set", c.Name)
	}
	return nil
}

// File is the on-disk configuration layout.
type File struct {
	// Clients maps client names to their configuration.
	Clients map[string]*ClientConfig `yaml:"clients"`

	// CountFailedRequests controls whether a failed upstream call still
	// consumes rate-limit quota. This is an explicit policy, not a side
	// effect of the call path.
	CountFailedRequests bool `yaml:"count_failed_requests"`
}

// Registry resolves client names to their immutable configuration.
type Registry struct {
	clients             map[string]*ClientConfig
	countFailedRequests bool
}

// NewRegistry builds a registry from already-constructed client configs.
func NewRegistry(clients map[string]*ClientConfig, countFailedRequests bool) (*Registry, error) {
	resolved := make(map[string]*ClientConfig, len(clients))
	for name, cfg := range clients {
		c := *cfg
		c.Name = name
		if err := c.Validate(); err != nil {
			return nil, err
		}
		resolved[name] = &c
	}
	return &Registry{clients: resolved, countFailedRequests: countFailedRequests}, nil
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from raw YAML.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(file.Clients) == 0 {
		return nil, fmt.Errorf("config defines no clients")
	}
	return NewRegistry(file.Clients, file.CountFailedRequests)
}

// Resolve returns the configuration for a client name.
// Returns ErrUnknownClient for names with no configuration.
func (r *Registry) Resolve(name string) (*ClientConfig, error) {
	cfg, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClient, name)
	}
	return cfg, nil
}

// CountFailedRequests reports whether failed upstream calls consume quota.
func (r *Registry) CountFailedRequests() bool {
	return r.countFailedRequests
}

// Names returns all configured client names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
