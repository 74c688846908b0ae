// Package config loads and validates server configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenFormat selects how access tokens are minted.
type TokenFormat string

const (
	TokenFormatJWT    TokenFormat = "jwt"
	TokenFormatOpaque TokenFormat = "opaque"
)

// PKCERequirement controls when PKCE is mandatory.
type PKCERequirement string

const (
	PKCEOff           PKCERequirement = "off"
	PKCEPublicClients PKCERequirement = "public_clients"
	PKCEAlways        PKCERequirement = "always"
)

// SigningAlg is the JWT signing algorithm family.
type SigningAlg string

const (
	SigningRS256 SigningAlg = "RS256"
	SigningES256 SigningAlg = "ES256"
)

// ScopeDef describes one entry of the server scope catalog.
type ScopeDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Config is the full server configuration.
type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// ConsentURL is where the host application renders the consent
		// prompt; the authorize endpoint redirects there.
		ConsentURL string `yaml:"consent_url"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Driver string `yaml:"driver"`
		Redis  struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Token struct {
		Issuer     string      `yaml:"issuer"`
		Audience   string      `yaml:"audience"`
		Format     TokenFormat `yaml:"format"`
		Algorithm  SigningAlg  `yaml:"algorithm"`
		AccessTTL  string      `yaml:"access_ttl"`
		RefreshTTL string      `yaml:"refresh_ttl"`
	} `yaml:"token"`

	OAuth struct {
		PKCE            PKCERequirement `yaml:"pkce"`
		RefreshRotation bool            `yaml:"refresh_rotation"`
		ReuseDetection  bool            `yaml:"reuse_detection"`
		Scopes          []ScopeDef      `yaml:"scopes"`
	} `yaml:"oauth"`

	Rate struct {
		Enabled bool   `yaml:"enabled"`
		Max     int64  `yaml:"max"`
		Window  string `yaml:"window"`
	} `yaml:"rate"`
}

// Load reads the YAML file at path (optional), applies environment
// overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BASTION_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BASTION_ISSUER"); v != "" {
		c.Token.Issuer = v
	}
	if v := os.Getenv("BASTION_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("BASTION_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("BASTION_REDIS_ADDR"); v != "" {
		c.Cache.Driver = "redis"
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.App.Env = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ConsentURL == "" {
		c.Server.ConsentURL = "/consent"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "10m"
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = "http://localhost:8080"
	}
	if c.Token.Audience == "" {
		c.Token.Audience = c.Token.Issuer
	}
	if c.Token.Format == "" {
		c.Token.Format = TokenFormatJWT
	}
	if c.Token.Algorithm == "" {
		c.Token.Algorithm = SigningRS256
	}
	if c.Token.AccessTTL == "" {
		c.Token.AccessTTL = "15m"
	}
	if c.Token.RefreshTTL == "" {
		c.Token.RefreshTTL = "30d"
	}
	if c.OAuth.PKCE == "" {
		c.OAuth.PKCE = PKCEPublicClients
	}
	if c.Rate.Max == 0 {
		c.Rate.Max = 60
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
}

// Validate rejects unknown enum values and unparseable durations early;
// a misparsed TTL must fail startup, not ship as a wrong expiry.
func (c *Config) Validate() error {
	switch c.Token.Format {
	case TokenFormatJWT, TokenFormatOpaque:
	default:
		return fmt.Errorf("token.format: unknown value %q", c.Token.Format)
	}
	switch c.Token.Algorithm {
	case SigningRS256, SigningES256:
	default:
		return fmt.Errorf("token.algorithm: unknown value %q", c.Token.Algorithm)
	}
	switch c.OAuth.PKCE {
	case PKCEOff, PKCEPublicClients, PKCEAlways:
	default:
		return fmt.Errorf("oauth.pkce: unknown value %q", c.OAuth.PKCE)
	}
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.driver: unknown value %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn required for postgres driver")
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.driver: unknown value %q", c.Cache.Driver)
	}
	for _, field := range []struct{ name, val string }{
		{"token.access_ttl", c.Token.AccessTTL},
		{"token.refresh_ttl", c.Token.RefreshTTL},
		{"rate.window", c.Rate.Window},
		{"cache.memory.default_ttl", c.Cache.Memory.DefaultTTL},
	} {
		if _, err := ParseDuration(field.val); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	for _, s := range c.OAuth.Scopes {
		if !validScopeName(s.Name) {
			return fmt.Errorf("oauth.scopes: invalid scope name %q", s.Name)
		}
	}
	return nil
}

// AccessTTL returns the parsed access-token TTL.
func (c *Config) AccessTTL() time.Duration {
	return MustParseDuration(c.Token.AccessTTL)
}

// RefreshTTL returns the parsed refresh-token TTL.
func (c *Config) RefreshTTL() time.Duration {
	return MustParseDuration(c.Token.RefreshTTL)
}

// RateWindow returns the parsed rate-limit window.
func (c *Config) RateWindow() time.Duration {
	return MustParseDuration(c.Rate.Window)
}

// ScopeCatalog returns the configured scope names.
func (c *Config) ScopeCatalog() []string {
	out := make([]string, 0, len(c.OAuth.Scopes))
	for _, s := range c.OAuth.Scopes {
		out = append(out, s.Name)
	}
	return out
}

// validScopeName mirrors the scope package rules without importing it
// (config stays a leaf).
func validScopeName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		alnum := (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
		if i == 0 || i == len(name)-1 {
			if !alnum {
				return false
			}
			continue
		}
		if !alnum && !strings.ContainsRune(":_.-", rune(ch)) {
			return false
		}
	}
	return true
}
