package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string

	DatabaseURL    string
	ServiceToken   string
	AllowedOrigins []string

	SyncServiceURL     string
	SyncEndpointPath   string
	MemberSyncInterval time.Duration

	PaymentServiceURL   string
	PaymentServiceToken string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	CloudflareAccountID string
	R2AccessKeyID       string
	R2AccessKeySecret   string
	R2Bucket            string
	CDNBaseURL          string

	CertWorkers         int
	CertQueueSize       int
	CertRequirementsTTL time.Duration
	CASMaxRetries       int
	HighlightSweep      bool
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppEnv:   envString("APP_ENV", "production"),
		LogLevel: envString("LOG_LEVEL", "info"),
		HTTPAddr: envString("HTTP_ADDR", ":5200"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ServiceToken:   os.Getenv("GAME_SERVICE_TOKEN"),
		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		SyncServiceURL:     os.Getenv("SYNC_SERVICE_URL"),
		SyncEndpointPath:   envString("SYNC_ENDPOINT_PATH", "/api/v1/public/profiles"),
		MemberSyncInterval: envDuration("MEMBER_SYNC_INTERVAL", time.Minute),

		PaymentServiceURL:   os.Getenv("PAYMENT_SERVICE_URL"),
		PaymentServiceToken: envString("PAYMENT_SERVICE_TOKEN", os.Getenv("GAME_SERVICE_TOKEN")),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: envInt("SMTP_PORT", 587),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		SMTPFrom: os.Getenv("SMTP_FROM"),

		CloudflareAccountID: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:       os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret:   os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2Bucket:            os.Getenv("R2_BUCKET_NAME"),
		CDNBaseURL:          os.Getenv("CDN_BASE_URL"),

		CertWorkers:         envInt("CERT_WORKERS", 2),
		CertQueueSize:       envInt("CERT_QUEUE_SIZE", 64),
		CertRequirementsTTL: envDuration("CERT_REQUIREMENTS_TTL", 30*time.Second),
		CASMaxRetries:       envInt("CAS_MAX_RETRIES", 5),
		HighlightSweep:      envBool("HIGHLIGHT_SWEEP_ENABLED", true),
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.ServiceToken == "" {
		errs = append(errs, errors.New("GAME_SERVICE_TOKEN is not set"))
	}
	if c.CertWorkers <= 0 {
		errs = append(errs, fmt.Errorf("CERT_WORKERS must be positive, got %d", c.CertWorkers))
	}
	if c.CASMaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("CAS_MAX_RETRIES must be positive, got %d", c.CASMaxRetries))
	}
	return errors.Join(errs...)
}

// R2Enabled reports whether certificate artifacts can be uploaded.
func (c Config) R2Enabled() bool {
	return c.CloudflareAccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2Bucket != ""
}

func (c Config) Development() bool {
	return c.AppEnv == "development"
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envList(name string, fallback []string) []string {
	var out []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
