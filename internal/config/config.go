// Package config loads process configuration: defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"unison-context/internal/codec"
	"unison-context/internal/domain"
	"unison-context/internal/kvtable"
	"unison-context/internal/observability"
)

// Environment variables read by Load.
const (
	EnvConfigFile         = "UNISON_CONTEXT_CONFIG"
	EnvAddr               = "UNISON_CONTEXT_ADDR"
	EnvStorageURL         = "UNISON_STORAGE_URL"
	EnvEncryptionKey      = "UNISON_CONTEXT_ENCRYPTION_KEY"
	EnvEncryptionKeyParam = "UNISON_CONTEXT_ENCRYPTION_KEY_PARAM"
	EnvCodecFormat        = "UNISON_CODEC_FORMAT"
	EnvRequireConsent     = "UNISON_REQUIRE_CONSENT"
	EnvLogLevel           = "UNISON_LOG_LEVEL"
	EnvDashboardMaxCards  = "UNISON_DASHBOARD_MAX_CARDS"
	EnvSessionMaxMessages = "UNISON_SESSION_MAX_MESSAGES"
	EnvMaxBodyBytes       = "UNISON_CONTEXT_MAX_BODY_BYTES"
	EnvShutdownTimeout    = "UNISON_CONTEXT_SHUTDOWN_TIMEOUT"
)

type Config struct {
	Addr       string `yaml:"addr"`
	StorageURL string `yaml:"storage_url"`

	// EncryptionKey is only ever read from the environment.
	EncryptionKey string `yaml:"-"`
	// EncryptionKeyParam names an SSM SecureString holding the key. Used
	// when EncryptionKey is empty.
	EncryptionKeyParam string `yaml:"encryption_key_param"`
	CodecFormat        string `yaml:"codec_format"`

	RequireConsent bool                `yaml:"require_consent"`
	PolicyRoles    map[string][]string `yaml:"policy_roles"`

	LogLevel string `yaml:"log_level"`

	DashboardMaxCards  int `yaml:"dashboard_max_cards"`
	SessionMaxMessages int `yaml:"session_max_messages"`

	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		Addr:               ":8081",
		StorageURL:         "sqlite:unison-context.db",
		CodecFormat:        string(codec.FormatJSON),
		LogLevel:           "info",
		DashboardMaxCards:  100,
		SessionMaxMessages: 500,
		MaxBodyBytes:       1 << 20,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load builds the configuration from the process environment.
func Load() (*Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		if err := cfg.mergeFile(strings.TrimSpace(path)); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvAddr, &c.Addr)
	str(EnvStorageURL, &c.StorageURL)
	str(EnvEncryptionKey, &c.EncryptionKey)
	str(EnvEncryptionKeyParam, &c.EncryptionKeyParam)
	str(EnvCodecFormat, &c.CodecFormat)
	str(EnvLogLevel, &c.LogLevel)

	if v, ok := lookup(EnvRequireConsent); ok {
		c.RequireConsent = ParseBool(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvDashboardMaxCards, &c.DashboardMaxCards},
		{EnvSessionMaxMessages, &c.SessionMaxMessages},
	}
	for _, it := range ints {
		v, ok := lookup(it.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", it.key, err)
		}
		*it.dst = n
	}

	if v, ok := lookup(EnvMaxBodyBytes); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMaxBodyBytes, err)
		}
		c.MaxBodyBytes = n
	}
	if v, ok := lookup(EnvShutdownTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvShutdownTimeout, err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// ParseBool treats 1, true, yes and on (any case) as true and everything
// else as false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks every field that can be checked without I/O.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := kvtable.ParseURL(c.StorageURL); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.ParseFormat(c.CodecFormat); err != nil {
		errs = append(errs, err)
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.DashboardMaxCards <= 0 {
		errs = append(errs, errors.New("dashboard_max_cards must be positive"))
	}
	if c.SessionMaxMessages <= 0 {
		errs = append(errs, errors.New("session_max_messages must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	for kind := range c.PolicyRoles {
		if !domain.Kind(kind).Valid() {
			errs = append(errs, fmt.Errorf("policy_roles: unknown kind %q", kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Roles returns the policy allow-set overrides keyed by kind.
func (c *Config) Roles() map[domain.Kind][]string {
	out := make(map[domain.Kind][]string, len(c.PolicyRoles))
	for kind, roles := range c.PolicyRoles {
		out[domain.Kind(kind)] = roles
	}
	return out
}

// Encrypted reports whether a key source is configured.
func (c *Config) Encrypted() bool {
	return c.EncryptionKey != "" || c.EncryptionKeyParam != ""
}
