package leadguard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the server needs, read from the environment.
// Zero values fall back to the documented defaults so a bare process still
// starts in a safe configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogPretty  bool

	// TokenSecret keys the anti-forgery MAC. When empty the token layer
	// falls back to fingerprint-only binding.
	TokenSecret string
	TokenTTL    time.Duration

	RateWindow      time.Duration
	MaxRequests     int
	MaxFailures     int
	LockoutDuration time.Duration

	MinFillTime    time.Duration
	RequireCaptcha bool
	SignatureDir   string

	Recipient    string
	ResendAPIKey string
	EmailFrom    string
	WebhookURL   string
	SinkTimeout  time.Duration

	// RedisAddr switches guard state to Redis; empty keeps the in-memory
	// store. LedgerPath does the same for the SQLite ledger.
	RedisAddr  string
	LedgerPath string
	LedgerTTL  time.Duration

	SweepInterval time.Duration
	IdleTTL       time.Duration

	BlockedCIDRs []string
}

// LoadConfig reads configuration from LEADGUARD_* environment variables.
func LoadConfig() *Config {
	return &Config{
		ListenAddr: envString("LEADGUARD_LISTEN_ADDR", ":8080"),
		LogLevel:   envString("LEADGUARD_LOG_LEVEL", "info"),
		LogPretty:  envBool("LEADGUARD_LOG_PRETTY", false),

		TokenSecret: os.Getenv("LEADGUARD_TOKEN_SECRET"),
		TokenTTL:    envDuration("LEADGUARD_TOKEN_TTL", DefaultTokenTTL),

		RateWindow:      envDuration("LEADGUARD_RATE_WINDOW", DefaultWindow),
		MaxRequests:     envInt("LEADGUARD_MAX_REQUESTS", DefaultMaxRequests),
		MaxFailures:     envInt("LEADGUARD_MAX_FAILURES", DefaultMaxFailures),
		LockoutDuration: envDuration("LEADGUARD_LOCKOUT_DURATION", DefaultLockoutDuration),

		MinFillTime:    envDuration("LEADGUARD_MIN_FILL_TIME", MinFillTime),
		RequireCaptcha: envBool("LEADGUARD_REQUIRE_CAPTCHA", false),
		SignatureDir:   os.Getenv("LEADGUARD_SIGNATURE_DIR"),

		Recipient:    os.Getenv("LEADGUARD_RECIPIENT"),
		ResendAPIKey: os.Getenv("LEADGUARD_RESEND_API_KEY"),
		EmailFrom:    envString("LEADGUARD_EMAIL_FROM", "Wycena <onboarding@resend.dev>"),
		WebhookURL:   os.Getenv("LEADGUARD_WEBHOOK_URL"),
		SinkTimeout:  envDuration("LEADGUARD_SINK_TIMEOUT", 10*time.Second),

		RedisAddr:  os.Getenv("LEADGUARD_REDIS_ADDR"),
		LedgerPath: os.Getenv("LEADGUARD_LEDGER_PATH"),
		LedgerTTL:  envDuration("LEADGUARD_LEDGER_TTL", time.Hour),

		SweepInterval: envDuration("LEADGUARD_SWEEP_INTERVAL", 15*time.Minute),
		IdleTTL:       envDuration("LEADGUARD_IDLE_TTL", 30*time.Minute),

		BlockedCIDRs: envList("LEADGUARD_BLOCKED_CIDRS"),
	}
}

// Validate rejects configurations that would silently disable a guard.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive, got %v", c.RateWindow)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", c.MaxRequests)
	}
	if c.MaxFailures <= 0 {
		return fmt.Errorf("max failures must be positive, got %d", c.MaxFailures)
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("lockout duration must be positive, got %v", c.LockoutDuration)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %v", c.TokenTTL)
	}
	if c.MinFillTime < 0 {
		return fmt.Errorf("min fill time must not be negative, got %v", c.MinFillTime)
	}
	if c.ResendAPIKey != "" && c.Recipient == "" {
		return fmt.Errorf("resend sink configured without a recipient")
	}
	for _, cidr := range c.BlockedCIDRs {
		if len(parseCIDRs([]string{cidr})) == 0 {
			return fmt.Errorf("invalid blocked cidr %q", cidr)
		}
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
