// Package config loads runtime settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/deusflow/crisiswatch/internal/quota"
)

var defaultRegions = []string{
	"GLOBAL", "MIDDLE_EAST", "EUROPE", "ASIA",
	"WEST_EAST_AFRICA", "SOUTHERN_AFRICA", "SOUTH_AMERICA",
}

type Config struct {
	// Telegram settings
	TelegramToken   string
	TelegramChatID  string
	TelegramBaseURL string

	// Feeds
	Regions     []string
	CustomFeeds []string
	FeedsFile   string // optional YAML region -> feeds override
	PollLimit   int    // entries taken from each feed
	ShuffleFeed bool

	// Dispatch policy
	MaxAlertsPerRun     int
	MaxAlertsPerDay     int
	MinGap              time.Duration // pause after each non-critical send
	QuietHours          quota.QuietHours
	MinPerRegion        int
	MaxPerCluster       int
	SimThreshold        float64
	SeverityThreshold   int
	CriticalThreshold   int
	NonCriticalCooldown time.Duration
	MaxPerSourceRun     int
	DedupeWindow        time.Duration
	RecentTitlesLimit   int
	BoostRegions        []string

	// Summaries
	GeminiAPIKey      string
	GeminiModel       string
	MaxGeminiRequests int // per UTC day, 0 = unlimited
	SummaryTimeout    time.Duration
	SummaryMaxChars   int

	// Storage
	DBPath      string
	DatabaseURL string // PostgreSQL; takes precedence over DBPath

	// App settings
	Debug            bool
	UserAgent        string
	RequestTimeout   time.Duration
	BodyCacheTTL     time.Duration
	PollInterval     time.Duration // 0 runs a single cycle
	EnableMonitoring bool
	MonitoringPort   string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error

	quiet, err := quota.ParseQuietHours(os.Getenv("QUIET_HOURS_UTC"))
	if err != nil {
		errs = append(errs, fmt.Errorf("QUIET_HOURS_UTC: %w", err))
	}

	cfg := &Config{
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramBaseURL: getEnvOrDefault("TELEGRAM_API_URL", "https://api.telegram.org"),

		Regions:     upperList(getListOrDefault("REGIONS", defaultRegions)),
		CustomFeeds: getListOrDefault("CUSTOM_FEEDS", nil),
		FeedsFile:   os.Getenv("FEEDS_FILE"),
		PollLimit:   getEnvIntOrDefault("POLL_LIMIT", 25),
		ShuffleFeed: getEnvBoolOrDefault("SHUFFLE_FEEDS", false),

		MaxAlertsPerRun:     getEnvIntOrDefault("MAX_ALERTS_PER_RUN", 6),
		MaxAlertsPerDay:     getEnvIntOrDefault("MAX_ALERTS_PER_DAY", 18),
		MinGap:              seconds(getEnvIntOrDefault("MIN_GAP_SECONDS", 90)),
		QuietHours:          quiet,
		MinPerRegion:        getEnvIntOrDefault("MIN_PER_REGION", 1),
		MaxPerCluster:       getEnvIntOrDefault("MAX_PER_CLUSTER", 2),
		SimThreshold:        float64(getEnvIntOrDefault("SIM_THRESHOLD", 86)),
		SeverityThreshold:   getEnvIntOrDefault("SEVERITY_THRESHOLD", 5),
		CriticalThreshold:   getEnvIntOrDefault("CRITICAL_THRESHOLD", 8),
		NonCriticalCooldown: seconds(getEnvIntOrDefault("NONCRIT_COOLDOWN_SECONDS", 1500)),
		MaxPerSourceRun:     getEnvIntOrDefault("MAX_PER_SOURCE_RUN", 2),
		DedupeWindow:        time.Duration(getEnvIntOrDefault("DEDUPE_WINDOW_DAYS", 3)) * 24 * time.Hour,
		RecentTitlesLimit:   getEnvIntOrDefault("RECENT_TITLES_LIMIT", 500),
		BoostRegions:        upperList(getListOrDefault("BOOST_REGIONS", []string{"WEST_EAST_AFRICA", "SOUTHERN_AFRICA", "SOUTH_AMERICA"})),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		MaxGeminiRequests: getEnvIntOrDefault("MAX_GEMINI_REQUESTS", 50),
		SummaryTimeout:    seconds(getEnvIntOrDefault("SUMMARY_TIMEOUT_SECONDS", 15)),
		SummaryMaxChars:   getEnvIntOrDefault("SUMMARY_MAX_CHARS", 450),

		DBPath:      getEnvOrDefault("DB_PATH", "data/crisiswatch.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		Debug:            getEnvBoolOrDefault("DEBUG", false),
		UserAgent:        getEnvOrDefault("USER_AGENT", "CrisisWatchBot/1.0 (+https://github.com/deusflow/crisiswatch)"),
		RequestTimeout:   seconds(getEnvIntOrDefault("REQUEST_TIMEOUT_SECONDS", 20)),
		BodyCacheTTL:     time.Duration(getEnvIntOrDefault("BODY_CACHE_TTL_HOURS", 6)) * time.Hour,
		PollInterval:     seconds(getEnvIntOrDefault("POLL_INTERVAL_SECONDS", getEnvIntOrDefault("POLL_INTERVAL", 0))),
		EnableMonitoring: getEnvBoolOrDefault("ENABLE_HTTP_MONITORING", false),
		MonitoringPort:   getEnvOrDefault("MONITORING_PORT", "8080"),
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.TelegramChatID == "" {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required"))
	}
	if len(c.Regions) == 0 && len(c.CustomFeeds) == 0 && c.FeedsFile == "" {
		errs = append(errs, errors.New("no feeds configured: set REGIONS, CUSTOM_FEEDS or FEEDS_FILE"))
	}
	if c.PollLimit < 1 {
		errs = append(errs, errors.New("POLL_LIMIT must be >= 1"))
	}
	if c.MaxAlertsPerRun < 0 || c.MaxAlertsPerDay < 0 {
		errs = append(errs, errors.New("alert caps must be >= 0"))
	}
	if c.MaxPerCluster < 1 {
		errs = append(errs, errors.New("MAX_PER_CLUSTER must be >= 1"))
	}
	if c.SimThreshold < 0 || c.SimThreshold > 100 {
		errs = append(errs, errors.New("SIM_THRESHOLD must be within 0-100"))
	}
	if c.MinPerRegion < 0 || c.MaxPerSourceRun < 0 || c.MinGap < 0 || c.NonCriticalCooldown < 0 {
		errs = append(errs, errors.New("region, source, gap and cooldown settings must be >= 0"))
	}
	if c.DedupeWindow <= 0 {
		errs = append(errs, errors.New("DEDUPE_WINDOW_DAYS must be >= 1"))
	}
	return errors.Join(errs...)
}

// Limits returns the governor settings.
func (c *Config) Limits() quota.Limits {
	return quota.Limits{
		MaxPerRun:           c.MaxAlertsPerRun,
		MaxPerDay:           c.MaxAlertsPerDay,
		MaxPerSourceRun:     c.MaxPerSourceRun,
		MinPerRegion:        c.MinPerRegion,
		NonCriticalCooldown: c.NonCriticalCooldown,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getListOrDefault splits a comma separated variable, dropping blanks.
func getListOrDefault(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upperList(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
