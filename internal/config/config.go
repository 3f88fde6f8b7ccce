package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
)

const (
	defaultPictureBaseURL = "http://aakashleap.com:3131/Content/ScoreToolImage"
	defaultPicturePrefix  = "Output"

	minHTTPTimeout = 10 * time.Second
	maxHTTPTimeout = 15 * time.Second

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	Env     string
	Port    string
	DataDir string

	TelegramToken   string
	TelegramTimeout time.Duration

	WAPhoneNumberID string
	WAAccessToken   string
	WAVerifyToken   string
	WAAppSecret     string

	// VerifyTokenGenerated is set when WA_VERIFY_TOKEN was empty and a
	// random token was created for this run.
	VerifyTokenGenerated bool

	PictureBaseURL string
	PicturePrefix  string

	InfoBaseURL     string
	InfoEmailDomain string
	Cookies         map[string]string
	Headers         map[string]string

	HTTPTimeout  time.Duration
	Location     *time.Location
	StateBackend string
	SessionTTL   time.Duration
	Redis        RedisConfig
	HistoryLimit int

	// Warnings collects values that were ignored in favor of a default.
	// The logger is not set up yet while loading, so main logs them.
	Warnings []string
}

func (c *Config) TelegramEnabled() bool { return c.TelegramToken != "" }

func (c *Config) WhatsAppEnabled() bool {
	return c.WAPhoneNumberID != "" && c.WAAccessToken != ""
}

func Load() (*Config, error) {
	// .env is optional, env vars may already be set (e.g. in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", "dev"),
		Port:            getEnv("PORT", "8080"),
		DataDir:         getEnv("DATA_DIR", "."),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		WAPhoneNumberID: os.Getenv("WA_PHONE_NUMBER_ID"),
		WAAccessToken:   os.Getenv("WA_ACCESS_TOKEN"),
		WAVerifyToken:   os.Getenv("WA_VERIFY_TOKEN"),
		WAAppSecret:     os.Getenv("WA_APP_SECRET"),
		PictureBaseURL:  strings.TrimRight(getEnv("PICTURE_BASE_URL", defaultPictureBaseURL), "/"),
		PicturePrefix:   defaultPicturePrefix,
		InfoBaseURL:     os.Getenv("INFO_BASE_URL"),
		InfoEmailDomain: strings.TrimPrefix(os.Getenv("INFO_EMAIL_DOMAIN"), "@"),
		StateBackend:    strings.ToLower(getEnv("STATE_BACKEND", BackendMemory)),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}

	// an explicitly empty prefix is allowed
	if prefix, ok := os.LookupEnv("PICTURE_PREFIX"); ok {
		cfg.PicturePrefix = prefix
	}

	cfg.TelegramTimeout = cfg.getEnvAsDuration("TELEGRAM_TIMEOUT", 60*time.Second)
	cfg.HTTPTimeout = clampTimeout(cfg.getEnvAsDuration("HTTP_TIMEOUT", maxHTTPTimeout))
	cfg.SessionTTL = cfg.getEnvAsDuration("SESSION_TTL", 30*time.Minute)
	cfg.Redis.DB = cfg.getEnvAsInt("REDIS_DB", 0)
	cfg.HistoryLimit = cfg.getEnvAsInt("HISTORY_LIMIT", 5)

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	creds, err := LoadCredentials(os.Getenv("CREDENTIALS_PATH"))
	if err != nil {
		return nil, err
	}
	if raw := os.Getenv("INFO_COOKIE"); raw != "" {
		if err := creds.AddCookieHeader(raw); err != nil {
			return nil, fmt.Errorf("invalid INFO_COOKIE: %w", err)
		}
	}
	cfg.Cookies = creds.Cookies
	cfg.Headers = creds.Headers

	if cfg.WAVerifyToken == "" {
		token, err := randomHex(16)
		if err != nil {
			return nil, fmt.Errorf("generating verify token: %w", err)
		}
		cfg.WAVerifyToken = token
		cfg.VerifyTokenGenerated = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, req := range []struct {
		name, val string
	}{
		{"INFO_BASE_URL", c.InfoBaseURL},
		{"INFO_EMAIL_DOMAIN", c.InfoEmailDomain},
	} {
		if req.val == "" {
			return fmt.Errorf("required env var %s is not set", req.name)
		}
	}

	if !c.TelegramEnabled() && !c.WhatsAppEnabled() {
		return errors.New("no frontend configured: set TELEGRAM_TOKEN or WA_PHONE_NUMBER_ID and WA_ACCESS_TOKEN")
	}

	switch c.StateBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func (c *Config) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(strValue)
	if err != nil || value <= 0 {
		c.warnf("invalid value %q for %s, using default %s", strValue, key, defaultValue)
		return defaultValue
	}
	return value
}

func (c *Config) getEnvAsInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil || value < 0 {
		c.warnf("invalid value %q for %s, using default %d", strValue, key, defaultValue)
		return defaultValue
	}
	return value
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// clampTimeout keeps outbound lookups between 10 and 15 seconds.
func clampTimeout(d time.Duration) time.Duration {
	return min(max(d, minHTTPTimeout), maxHTTPTimeout)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// cookieValues splits a raw Cookie header into name/value pairs.
func cookieValues(raw string) (map[string]string, error) {
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}
