// Package config loads process configuration from the environment, with an
// optional YAML file as the base layer.
//
// Provider and object-store credentials are not configured here. They are
// edited at runtime by an admin and live in the settings record.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderResend = "resend"
	ProviderSES    = "ses"
	ProviderSMTP   = "smtp"
)

type Config struct {
	HTTP          HTTPConfig        `yaml:"http"`
	DBPath        string            `yaml:"db_path"`
	AuthSecret    string            `yaml:"auth_secret"`
	WebhookSecret string            `yaml:"webhook_secret"`
	Provider      string            `yaml:"provider"`
	Resend        ResendConfig      `yaml:"resend"`
	SES           SESConfig         `yaml:"ses"`
	SMTP          SMTPConfig        `yaml:"smtp"`
	ObjectStore   ObjectStoreConfig `yaml:"object_store"`
	Logging       LoggingConfig     `yaml:"logging"`
}

type HTTPConfig struct {
	Port          int  `yaml:"port"`
	SecureCookies bool `yaml:"secure_cookies"`
}

type ResendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SESConfig is only read when Provider is "ses". Empty keys fall back to the
// default AWS credential chain.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ObjectStoreConfig overrides the R2 endpoint derived from the account id,
// e.g. to point at MinIO during development.
type ObjectStoreConfig struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load returns defaults overridden by environment variables.
func Load() (Config, error) {
	cfg := defaults()
	cfg.applyEnv()
	return cfg, cfg.validate()
}

// LoadFromFile reads a YAML file over the defaults, then applies environment
// overrides on top.
func LoadFromFile(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

func (c Config) SESConfigured() bool {
	return c.SES.Region != ""
}

func (c Config) SMTPConfigured() bool {
	return c.SMTP.Addr != ""
}

func defaults() Config {
	return Config{
		HTTP:        HTTPConfig{Port: 8000},
		Provider:    ProviderResend,
		Resend:      ResendConfig{BaseURL: "https://api.resend.com"},
		ObjectStore: ObjectStoreConfig{Region: "auto"},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
	}
}

func (c *Config) applyEnv() {
	c.HTTP.Port = getEnvInt("HTTP_PORT", c.HTTP.Port)
	c.HTTP.SecureCookies = getEnvBool("SECURE_COOKIES", c.HTTP.SecureCookies)
	c.DBPath = getEnvString("DB_PATH", c.DBPath)
	c.AuthSecret = getEnvString("AUTH_SECRET", c.AuthSecret)
	c.WebhookSecret = getEnvString("WEBHOOK_SECRET", c.WebhookSecret)
	c.Provider = strings.ToLower(getEnvString("PROVIDER", c.Provider))
	c.Resend.BaseURL = getEnvString("RESEND_BASE_URL", c.Resend.BaseURL)

	c.SES.Region = getEnvString("SES_REGION", c.SES.Region)
	c.SES.AccessKeyID = getEnvString("SES_ACCESS_KEY_ID", c.SES.AccessKeyID)
	c.SES.SecretAccessKey = getEnvString("SES_SECRET_ACCESS_KEY", c.SES.SecretAccessKey)

	c.SMTP.Addr = getEnvString("SMTP_ADDR", c.SMTP.Addr)
	c.SMTP.Username = getEnvString("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnvString("SMTP_PASSWORD", c.SMTP.Password)

	c.ObjectStore.Endpoint = getEnvString("OBJECT_STORE_ENDPOINT", c.ObjectStore.Endpoint)
	c.ObjectStore.Region = getEnvString("OBJECT_STORE_REGION", c.ObjectStore.Region)

	c.Logging.Level = strings.ToLower(getEnvString("LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnvString("LOG_FORMAT", c.Logging.Format))
}

func (c Config) validate() error {
	switch c.Provider {
	case ProviderResend:
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("provider %q requires SES_REGION", c.Provider)
		}
	case ProviderSMTP:
		if !c.SMTPConfigured() {
			return fmt.Errorf("provider %q requires SMTP_ADDR", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
