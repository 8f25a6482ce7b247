package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ankittk/agentdeck/pkg/models"
)

// EnvPrefix prefixes every environment override (AGENTDECK_SERVER_URL, ...).
const EnvPrefix = "AGENTDECK"

// FileName is the config file inside the home directory.
const FileName = "config.yaml"

// Keys shared by viper, cobra flags and environment variables.
const (
	KeyServerURL      = "server.url"
	KeyStreamURL      = "server.stream-url"
	KeyAPIKey         = "server.api-key"
	KeyJWTSecret      = "server.jwt-secret"
	KeyJWTSubject     = "server.jwt-subject"
	KeyLedgerBackend  = "ledger.backend"
	KeyLedgerDSN      = "ledger.dsn"
	KeyLedgerCapacity = "ledger.capacity"
	KeyRequestTimeout = "request-timeout"
	KeyNoticeTTL      = "notice-ttl"
	KeyListen         = "listen"
	KeyViewsSecret    = "views-secret"
	KeySlackWebhook   = "slack.webhook"
	KeySlackChannel   = "slack.channel"
	KeyNoticeWebhook  = "notice-webhook"
	KeyLogLevel       = "log-level"
)

// Config models config.yaml.
type Config struct {
	Server struct {
		URL        string `yaml:"url"`
		StreamURL  string `yaml:"stream_url,omitempty"`
		APIKey     string `yaml:"api_key,omitempty"`
		JWTSecret  string `yaml:"jwt_secret,omitempty"`
		JWTSubject string `yaml:"jwt_subject,omitempty"`
	} `yaml:"server"`
	Ledger struct {
		Backend  string `yaml:"backend"`
		DSN      string `yaml:"dsn,omitempty"`
		Capacity int    `yaml:"capacity"`
	} `yaml:"ledger"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	NoticeTTL      time.Duration `yaml:"notice_ttl"`
	Listen         string        `yaml:"listen"`
	// ViewsSecret, when set, requires an HS256 bearer token on the local API.
	ViewsSecret string `yaml:"views_secret,omitempty"`
	Slack       struct {
		Webhook string `yaml:"webhook,omitempty"`
		Channel string `yaml:"channel,omitempty"`
	} `yaml:"slack"`
	NoticeWebhook string `yaml:"notice_webhook,omitempty"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the configuration used when config.yaml is absent.
func Default() *Config {
	c := &Config{}
	c.Server.URL = "http://localhost:3001"
	c.Server.JWTSubject = "agentdeck"
	c.Ledger.Backend = "sqlite"
	c.Ledger.Capacity = models.DefaultLedgerCapacity
	c.RequestTimeout = models.DefaultRequestTimeout
	c.NoticeTTL = models.DefaultNoticeTTL
	c.Listen = "127.0.0.1:4319"
	c.LogLevel = "info"
	return c
}

// Path returns the config file path for a home directory.
func Path(home string) string {
	return filepath.Join(home, FileName)
}

// Load reads home/config.yaml over the defaults. A missing file is not an error.
func Load(home string) (*Config, error) {
	data, err := os.ReadFile(Path(home))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config bytes over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to home/config.yaml with owner-only permissions.
func (c *Config) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o600)
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL)
	}
	if c.Server.StreamURL != "" {
		su, err := url.Parse(c.Server.StreamURL)
		if err != nil || (su.Scheme != "ws" && su.Scheme != "wss") {
			return fmt.Errorf("server.stream_url must be a ws(s) URL, got %q", c.Server.StreamURL)
		}
	}
	switch c.Ledger.Backend {
	case "sqlite", "file", "memory":
	case "postgres":
		if c.Ledger.DSN == "" && os.Getenv("DATABASE_URL") == "" {
			return errors.New("ledger.backend postgres requires ledger.dsn or DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}
	if c.Ledger.Capacity <= 0 {
		return fmt.Errorf("ledger.capacity must be positive, got %d", c.Ledger.Capacity)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.NoticeTTL <= 0 {
		return errors.New("notice_ttl must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// StreamURL returns the push-event endpoint, derived from server.url when unset.
func (c *Config) StreamURL() string {
	if c.Server.StreamURL != "" {
		return c.Server.StreamURL
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

// NewViper returns a viper instance reading AGENTDECK_* environment variables.
// Dots and dashes in keys become underscores: server.api-key is read from AGENTDECK_SERVER_API_KEY.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Overlay applies every key set in v (an env var or a changed flag) over c.
func (c *Config) Overlay(v *viper.Viper) error {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str(KeyServerURL, &c.Server.URL)
	str(KeyStreamURL, &c.Server.StreamURL)
	str(KeyAPIKey, &c.Server.APIKey)
	str(KeyJWTSecret, &c.Server.JWTSecret)
	str(KeyJWTSubject, &c.Server.JWTSubject)
	str(KeyLedgerBackend, &c.Ledger.Backend)
	str(KeyLedgerDSN, &c.Ledger.DSN)
	str(KeyListen, &c.Listen)
	str(KeyViewsSecret, &c.ViewsSecret)
	str(KeySlackWebhook, &c.Slack.Webhook)
	str(KeySlackChannel, &c.Slack.Channel)
	str(KeyNoticeWebhook, &c.NoticeWebhook)
	str(KeyLogLevel, &c.LogLevel)
	if v.IsSet(KeyLedgerCapacity) {
		c.Ledger.Capacity = v.GetInt(KeyLedgerCapacity)
	}
	if v.IsSet(KeyRequestTimeout) {
		c.RequestTimeout = v.GetDuration(KeyRequestTimeout)
	}
	if v.IsSet(KeyNoticeTTL) {
		c.NoticeTTL = v.GetDuration(KeyNoticeTTL)
	}
	return c.Validate()
}

// ParseLevel maps a log level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

type configKey struct{}

// WithConfig stores the resolved configuration in the context.
func WithConfig(ctx context.Context, c *Config) context.Context {
	return context.WithValue(ctx, configKey{}, c)
}

// FromContext returns the configuration stored by WithConfig, or the defaults.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok && c != nil {
		return c
	}
	return Default()
}
