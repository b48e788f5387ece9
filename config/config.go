package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerPort     string
	DatabaseDriver string
	DatabaseURL    string
	AdminToken     string
	LogLevel       string
	LogFormat      string

	SourcesFile   string
	SyncCron      string
	SyncOnStart   bool
	CleanSync     bool
	SourceTimeout time.Duration
	CacheTTL      time.Duration

	AIProvider      string
	AnthropicAPIKey string
	GeminiAPIKey    string
	AIModel         string

	ChromedpEnabled bool
	NSEToolsURL     string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),

		SourcesFile:   getEnv("SOURCES_FILE", "sources.yaml"),
		SyncCron:      getEnv("SYNC_CRON", "0 */30 * * * *"),
		SyncOnStart:   getEnvBool("SYNC_ON_START", true),
		CleanSync:     getEnvBool("CLEAN_SYNC", false),
		SourceTimeout: time.Duration(getEnvInt("SOURCE_TIMEOUT_SECONDS", 10)) * time.Second,
		CacheTTL:      time.Duration(getEnvInt("CACHE_TTL_MINUTES", 15)) * time.Minute,

		AIProvider:      strings.ToLower(getEnv("AI_PROVIDER", "")),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		AIModel:         getEnv("AI_MODEL", ""),

		ChromedpEnabled: getEnvBool("CHROMEDP_ENABLED", false),
		NSEToolsURL:     getEnv("NSETOOLS_URL", ""),
	}
}

// Pipeline builds the pipeline tunables from the environment settings
func (c *Config) Pipeline() *shared.PipelineConfiguration {
	pipeline := shared.NewDefaultPipelineConfiguration()
	pipeline.Aggregation.SourceTimeout = c.SourceTimeout
	pipeline.Cache.TTL = c.CacheTTL
	pipeline.Logging.Level = c.LogLevel
	pipeline.Logging.Format = c.LogFormat
	if c.DatabaseDriver == "sqlite" {
		// one writer at a time
		pipeline.Database.MaxOpenConns = 1
		pipeline.Database.MaxIdleConns = 1
	}
	pipeline.ValidateAndApplyDefaults()
	return pipeline
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %t", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		logrus.Warnf("Invalid %s value: %s, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}
