package server

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the HealthChat control plane.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	BaseURL             string
	LoginURL            string
	StripeWebhookSecret string
	StripeAPIKey        string
	PostmarkAPIToken    string // Postmark server token (optional — if empty, emails are logged)
	EmailFrom           string // Sender email address (e.g. "noreply@healthchat.app")
	PublicStatus        bool
	PublicMetrics       bool
}

// DatabasePath returns the path of the control plane's SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "healthchat.db")
}

// LoadConfig loads control plane configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("HC_PORT", 8443)
	if err != nil {
		return nil, err
	}
	publicStatus, err := envOrDefaultBool("HC_PUBLIC_STATUS", false)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("HC_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("HC_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("HC_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("HC_ADMIN_KEY")),
		BaseURL:             strings.TrimSpace(os.Getenv("HC_BASE_URL")),
		LoginURL:            strings.TrimSpace(os.Getenv("HC_LOGIN_URL")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		PostmarkAPIToken:    strings.TrimSpace(os.Getenv("POSTMARK_API_TOKEN")),
		EmailFrom:           envOrDefault("HC_EMAIL_FROM", "noreply@healthchat.app"),
		PublicStatus:        publicStatus,
		PublicMetrics:       publicMetrics,
	}
	if cfg.LoginURL == "" && cfg.BaseURL != "" {
		cfg.LoginURL = strings.TrimRight(cfg.BaseURL, "/") + "/login"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate control plane config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "HC_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "HC_BASE_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("HC_PORT must be between 1 and 65535, got %d", c.Port)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("HC_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("HC_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("HC_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}
