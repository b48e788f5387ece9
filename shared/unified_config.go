package shared

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineConfiguration holds the tunables of the aggregation pipeline
type PipelineConfiguration struct {
	Database    DatabaseConfig    `json:"database"`
	Aggregation AggregationConfig `json:"aggregation"`
	Cache       CacheConfig       `json:"cache"`
	Logging     LoggingConfig     `json:"logging"`
}

// DatabaseConfig holds database connection pool configuration
type DatabaseConfig struct {
	MaxOpenConns     int           `json:"max_open_conns"`
	MaxIdleConns     int           `json:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `json:"conn_max_idle_time"`
	PingTimeout      time.Duration `json:"ping_timeout"`
	MaxRetryAttempts int           `json:"max_retry_attempts"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay"`
}

// AggregationConfig controls the scraper fan-out
type AggregationConfig struct {
	SourceTimeout    time.Duration        `json:"source_timeout"`
	MaxRetryAttempts int                  `json:"max_retry_attempts"`
	CircuitBreaker   CircuitBreakerConfig `json:"circuit_breaker"`
}

// CacheConfig holds snapshot cache configuration
type CacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// NewDefaultPipelineConfiguration returns production defaults
func NewDefaultPipelineConfiguration() *PipelineConfiguration {
	return &PipelineConfiguration{
		Database: DatabaseConfig{
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnMaxLifetime:  5 * time.Minute,
			ConnMaxIdleTime:  5 * time.Minute,
			PingTimeout:      5 * time.Second,
			MaxRetryAttempts: 3,
			RetryBaseDelay:   100 * time.Millisecond,
		},
		Aggregation: AggregationConfig{
			SourceTimeout:    10 * time.Second,
			MaxRetryAttempts: 2,
			CircuitBreaker:   DefaultCircuitBreakerConfig(),
		},
		Cache: CacheConfig{
			TTL: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ValidateAndApplyDefaults replaces invalid values with defaults
func (c *PipelineConfiguration) ValidateAndApplyDefaults() {
	logger := logrus.WithField("component", "PipelineConfiguration")
	defaults := NewDefaultPipelineConfiguration()

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
		logger.Debug("Applied default Database.MaxOpenConns")
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
		logger.Debug("Applied default Database.MaxIdleConns")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		c.Database.MaxIdleConns = c.Database.MaxOpenConns
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = defaults.Database.ConnMaxLifetime
		logger.Debug("Applied default Database.ConnMaxLifetime")
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = defaults.Database.ConnMaxIdleTime
	}
	if c.Database.PingTimeout <= 0 {
		c.Database.PingTimeout = defaults.Database.PingTimeout
	}
	if c.Database.MaxRetryAttempts < 0 {
		c.Database.MaxRetryAttempts = defaults.Database.MaxRetryAttempts
	}
	if c.Database.RetryBaseDelay <= 0 {
		c.Database.RetryBaseDelay = defaults.Database.RetryBaseDelay
	}

	if c.Aggregation.SourceTimeout <= 0 {
		c.Aggregation.SourceTimeout = defaults.Aggregation.SourceTimeout
		logger.Debug("Applied default Aggregation.SourceTimeout")
	}
	if c.Aggregation.MaxRetryAttempts < 0 {
		c.Aggregation.MaxRetryAttempts = defaults.Aggregation.MaxRetryAttempts
	}
	if c.Aggregation.CircuitBreaker.MinSamples <= 0 {
		c.Aggregation.CircuitBreaker.MinSamples = defaults.Aggregation.CircuitBreaker.MinSamples
	}
	if c.Aggregation.CircuitBreaker.CoolDown <= 0 {
		c.Aggregation.CircuitBreaker.CoolDown = defaults.Aggregation.CircuitBreaker.CoolDown
	}
	if c.Aggregation.CircuitBreaker.MaxFailureRate == 0 || c.Aggregation.CircuitBreaker.MaxFailureRate > 1 {
		c.Aggregation.CircuitBreaker.MaxFailureRate = defaults.Aggregation.CircuitBreaker.MaxFailureRate
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = defaults.Cache.TTL
		logger.Debug("Applied default Cache.TTL")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
}

// ToJSON serializes the configuration to JSON
func (c *PipelineConfiguration) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFromJSON deserializes configuration from JSON and applies defaults
func (c *PipelineConfiguration) LoadFromJSON(jsonData []byte) error {
	if err := json.Unmarshal(jsonData, c); err != nil {
		return NewServiceError(ErrorCategoryConfiguration, CodeInvalidConfig,
			fmt.Sprintf("failed to unmarshal configuration: %v", err), "PipelineConfiguration", "LoadFromJSON", false, err)
	}
	c.ValidateAndApplyDefaults()
	return nil
}

// ConfigureLogging applies the logging section to the global logrus logger
func ConfigureLogging(cfg LoggingConfig) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
