package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Defaults applied by FromEnv when the variable is unset.
const (
	DefaultAddr             = ":8080"
	DefaultAccountGateAddr  = ":8081"
	DefaultUpstreamTimeout  = 10 * time.Second
	DefaultAllowListTimeout = 10 * time.Second
	DefaultSessionTTL       = 12 * time.Hour
	DefaultAttemptTTL       = 10 * time.Minute
	DefaultCompanyName      = "Segula"
	DefaultAuditTopic       = "portal.audit"
	DefaultSignInRate       = 5.0
	DefaultSignInBurst      = 10
)

// Config is the complete runtime configuration of both binaries.
type Config struct {
	Server    Server
	Upstream  Upstream
	OIDC      OIDC
	Session   Session
	Redis     RedisConfig
	Kafka     Kafka
	RateLimit RateLimit

	AllowedOrigins []string
	CompanyName    string
	HookSecret     string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AccountGateAddr string
	LogLevel        string
}

// Upstream configures the spreadsheet-backed read API.
type Upstream struct {
	URL              string
	Timeout          time.Duration
	AllowListTimeout time.Duration
}

// OIDC configures the identity provider relying party.
type OIDC struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Session configures cookies and session lifetimes.
type Session struct {
	Secret       string
	TTL          time.Duration
	AttemptTTL   time.Duration
	CookieSecure bool
}

// RedisConfig configures the optional Redis session store. An empty URL
// selects the in-memory store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the optional audit stream. No brokers means audit events
// are only logged.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// RateLimit bounds sign-in and hook traffic per client IP.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (*Config, error) {
	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		v, err := durationEnv(key, def)
		errs = append(errs, err)
		return v
	}
	num := func(key string, def int) int {
		v, err := intEnv(key, def)
		errs = append(errs, err)
		return v
	}

	rate, err := floatEnv("SIGNIN_RATE_PER_SEC", DefaultSignInRate)
	errs = append(errs, err)
	cookieSecure, err := boolEnv("COOKIE_SECURE", true)
	errs = append(errs, err)

	cfg := &Config{
		Server: Server{
			Addr:            stringEnv("PORTAL_ADDR", DefaultAddr),
			AccountGateAddr: stringEnv("ACCOUNTGATE_ADDR", DefaultAccountGateAddr),
			LogLevel:        stringEnv("LOG_LEVEL", "info"),
		},
		Upstream: Upstream{
			URL:              os.Getenv("UPSTREAM_API_URL"),
			Timeout:          dur("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
			AllowListTimeout: dur("ALLOWLIST_TIMEOUT", DefaultAllowListTimeout),
		},
		OIDC: OIDC{
			Issuer:       os.Getenv("OIDC_ISSUER"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("OIDC_REDIRECT_URI"),
			Scopes:       listEnv("OIDC_SCOPES", []string{"openid", "profile", "email"}),
		},
		Session: Session{
			Secret:       os.Getenv("SESSION_SECRET"),
			TTL:          dur("SESSION_TTL", DefaultSessionTTL),
			AttemptTTL:   dur("SIGNIN_ATTEMPT_TTL", DefaultAttemptTTL),
			CookieSecure: cookieSecure,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     num("REDIS_POOL_SIZE", 10),
			MinIdleConns: num("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    listEnv("KAFKA_BROKERS", nil),
			AuditTopic: stringEnv("AUDIT_TOPIC", DefaultAuditTopic),
		},
		RateLimit: RateLimit{
			PerSecond: rate,
			Burst:     num("SIGNIN_BURST", DefaultSignInBurst),
		},
		AllowedOrigins: listEnv("ALLOWED_ORIGINS", nil),
		CompanyName:    stringEnv("COMPANY_NAME", DefaultCompanyName),
		HookSecret:     os.Getenv("HOOK_SECRET"),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the portal server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("UPSTREAM_API_URL is required"))
	}
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.OIDC.Issuer == "" || c.OIDC.ClientID == "" || c.OIDC.RedirectURI == "" {
		errs = append(errs, errors.New("OIDC_ISSUER, OIDC_CLIENT_ID and OIDC_REDIRECT_URI are required"))
	}
	if c.Session.TTL <= 0 || c.Session.AttemptTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL and SIGNIN_ATTEMPT_TTL must be positive"))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("SIGNIN_RATE_PER_SEC and SIGNIN_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateAccountGate checks the settings the account gate cannot start without.
func (c *Config) ValidateAccountGate() error {
	var errs []error
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("UPSTREAM_API_URL is required"))
	}
	if c.HookSecret == "" {
		errs = append(errs, errors.New("HOOK_SECRET is required"))
	}
	return errors.Join(errs...)
}

// DeriveKey expands SESSION_SECRET into an independent key per purpose so the
// cookie signer and the OIDC state cookies never share key material.
func (c *Config) DeriveKey(purpose string, size int) ([]byte, error) {
	if c.Session.Secret == "" {
		return nil, errors.New("session secret not configured")
	}
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(c.Session.Secret), []byte("investor-portal"), []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func listEnv(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
