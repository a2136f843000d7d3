package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Schedule configuration
	ReportSchedule string // "daily" or "weekly"
	MonitorCron    string

	// Storage configuration
	StorageBackend   string // "azure" or "local"
	StorageAccount   string
	StorageContainer string
	LocalDataDir     string

	// Monitor state configuration
	StateBackend string // "blob" or "redis"
	RedisURL     string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// Reddit collection
	RedditClientID     string
	RedditClientSecret string
	RedditUserAgent    string
	TargetSubreddits   []string
	SearchTerms        []string
	LimitPerQuery      int
	IgnoredAuthors     []string

	// Classification
	NewsGroups    []string
	LexiconPath   string
	ProfanityPath string

	// Moderation calibration, disabled without an API key
	OpenAIAPIKey         string
	ModerationModel      string
	ModerationURL        string
	ModerationRateLimit  int
	ModerationRateWindow time.Duration
	ModerationTimeout    time.Duration
	ModerationCacheSize  int

	// Scoring and monitoring
	ScoringWorkers      int
	MonitorThreshold    float64
	MonitorWindow       time.Duration
	MaxMonitoredAuthors int

	// Author history enrichment after each collection run, zero users disables it
	EnrichTopUsers int
	EnrichWindow   time.Duration
}

// DefaultSubreddits are searched when TARGET_SUBREDDITS is not set
var DefaultSubreddits = []string{
	"politics", "worldnews", "news",
	"unpopularopinion", "TrueOffMyChest", "AmItheAsshole",
	"PublicFreakout", "justice", "changemyview",
}

// DefaultSearchTerms are the queries used to find candidate posts. They are
// search queries, not the scoring lexicon.
var DefaultSearchTerms = []string{
	// violence
	"kill", "murder", "shooting", "stabbed", "bomb attack", "violent attack",
	// threats
	"deserve to die", "should be killed", "i will kill you", "we will attack",
	"you will pay for this", "death threat", "i will hurt",
	// hate speech
	"hate speech", "racist slur", "racial hatred", "go back to your country", "they don't belong here",
	// dehumanization
	"they are animals", "vermin", "subhuman", "cockroaches", "parasites",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Debug:          getBoolEnv("DEBUG", false),
		ReportSchedule: getEnv("REPORT_SCHEDULE", "daily"),
		MonitorCron:    getEnv("MONITOR_CRON", "0 0 8 * * *"),

		StorageBackend:   getEnv("STORAGE_BACKEND", "local"),
		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "risk-monitor"),
		LocalDataDir:     getEnv("LOCAL_DATA_DIR", "data"),

		StateBackend: getEnv("STATE_BACKEND", "blob"),
		RedisURL:     getEnv("REDIS_URL", ""),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		RedditClientID:     getEnv("REDDIT_CLIENT_ID", ""),
		RedditClientSecret: getEnv("REDDIT_CLIENT_SECRET", ""),
		RedditUserAgent:    getEnv("REDDIT_USER_AGENT", "risk-monitor-bot/1.0"),
		TargetSubreddits:   getSliceEnv("TARGET_SUBREDDITS", DefaultSubreddits),
		SearchTerms:        getSliceEnv("SEARCH_TERMS", DefaultSearchTerms),
		LimitPerQuery:      getIntEnv("LIMIT_PER_QUERY", 10),
		IgnoredAuthors:     getSliceEnv("IGNORED_AUTHORS", []string{"AutoModerator"}),

		NewsGroups:    getSliceEnv("NEWS_GROUPS", []string{"news", "worldnews"}),
		LexiconPath:   getEnv("LEXICON_PATH", ""),
		ProfanityPath: getEnv("PROFANITY_PATH", ""),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		ModerationModel:      getEnv("MODERATION_MODEL", "omni-moderation-latest"),
		ModerationURL:        getEnv("MODERATION_URL", ""),
		ModerationRateLimit:  getIntEnv("MODERATION_RATE_LIMIT", 60),
		ModerationRateWindow: getDurationEnv("MODERATION_RATE_WINDOW", time.Minute),
		ModerationTimeout:    getDurationEnv("MODERATION_TIMEOUT", 15*time.Second),
		ModerationCacheSize:  getIntEnv("MODERATION_CACHE_SIZE", 1000),

		ScoringWorkers:      getIntEnv("SCORING_WORKERS", 8),
		MonitorThreshold:    getFloatEnv("MONITOR_THRESHOLD", 0.5),
		MonitorWindow:       getDurationEnv("MONITOR_WINDOW", 48*time.Hour),
		MaxMonitoredAuthors: getIntEnv("MAX_MONITORED_AUTHORS", 100),

		EnrichTopUsers: getIntEnv("ENRICH_TOP_USERS", 20),
		EnrichWindow:   getDurationEnv("ENRICH_WINDOW", 60*24*time.Hour),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ModerationEnabled reports whether calibration against the provider is on
func (c *Config) ModerationEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// CollectionWindow is how far back a collection run looks
func (c *Config) CollectionWindow() time.Duration {
	if c.ReportSchedule == "weekly" {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func (c *Config) validate() error {
	if c.ReportSchedule != "daily" && c.ReportSchedule != "weekly" {
		return fmt.Errorf("REPORT_SCHEDULE must be 'daily' or 'weekly'")
	}

	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(c.MonitorCron); err != nil {
		return fmt.Errorf("MONITOR_CRON is not a valid cron expression: %w", err)
	}

	switch c.StorageBackend {
	case "azure":
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required when STORAGE_BACKEND is 'azure'")
		}
	case "local":
		if c.LocalDataDir == "" {
			return fmt.Errorf("LOCAL_DATA_DIR is required when STORAGE_BACKEND is 'local'")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'azure' or 'local'")
	}

	switch c.StateBackend {
	case "blob":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STATE_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("STATE_BACKEND must be 'blob' or 'redis'")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.MonitorThreshold < 0 || c.MonitorThreshold > 1 {
		return fmt.Errorf("MONITOR_THRESHOLD must be between 0 and 1")
	}

	if c.ModerationRateLimit <= 0 || c.ModerationRateWindow <= 0 {
		return fmt.Errorf("MODERATION_RATE_LIMIT and MODERATION_RATE_WINDOW must be positive")
	}

	if c.ScoringWorkers <= 0 {
		return fmt.Errorf("SCORING_WORKERS must be positive")
	}

	if c.MonitorWindow <= 0 {
		return fmt.Errorf("MONITOR_WINDOW must be positive")
	}

	if c.EnrichTopUsers < 0 {
		return fmt.Errorf("ENRICH_TOP_USERS must not be negative")
	}

	if c.EnrichTopUsers > 0 && c.EnrichWindow <= 0 {
		return fmt.Errorf("ENRICH_WINDOW must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
