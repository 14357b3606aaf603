package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig

	// Danmaku overlay API
	Danmaku DanmakuConfig

	// Delivery queue and processor
	Queue QueueConfig

	// Content filter
	Filter FilterConfig

	// Admin HTTP API
	API APIConfig

	// DataDir holds the sqlite databases
	DataDir string

	// NATSURL enables audit fan-out when set
	NATSURL string

	// Env is "production" or anything else for development
	Env string

	// Debug mode
	Debug bool
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
	AdminIDs  []string // open_ids allowed to run admin commands
}

// DanmakuConfig contains overlay API configuration
type DanmakuConfig struct {
	BaseURL string
	APIKey  string
	RPS     int
	Timeout time.Duration
}

// QueueConfig contains queue configuration
type QueueConfig struct {
	MaxSize         int
	EvictionSlack   int
	MaxRetries      int
	Interval        time.Duration
	CleanupInterval time.Duration
}

// FilterConfig contains filter configuration
type FilterConfig struct {
	RulesPath          string // YAML default rule set, optional
	RegexCacheSize     int
	RateLimitCacheSize int
	// PublishTimeout bounds each NATS publish made while filtering
	PublishTimeout time.Duration
}

// APIConfig contains the admin API configuration
type APIConfig struct {
	Port int
	// URL is where the MCP server reaches the admin API
	URL string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, ".danmaku-bridge")
	}

	apiPort := envInt("API_PORT", 9876)
	apiURL := os.Getenv("BRIDGE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:" + strconv.Itoa(apiPort)
	}

	return &Config{
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
			AdminIDs:  splitList(os.Getenv("FEISHU_ADMIN_IDS")),
		},
		Danmaku: DanmakuConfig{
			BaseURL: os.Getenv("DANMAKU_BASE_URL"),
			APIKey:  os.Getenv("DANMAKU_API_KEY"),
			RPS:     envInt("DANMAKU_RPS", 10),
			Timeout: time.Duration(envInt("DANMAKU_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Queue: QueueConfig{
			MaxSize:         envInt("QUEUE_MAX_SIZE", 1000),
			EvictionSlack:   envInt("QUEUE_EVICTION_SLACK", 100),
			MaxRetries:      envInt("QUEUE_MAX_RETRIES", 3),
			Interval:        time.Duration(envInt("QUEUE_INTERVAL_MS", 1000)) * time.Millisecond,
			CleanupInterval: time.Duration(envInt("QUEUE_CLEANUP_MINUTES", 10)) * time.Minute,
		},
		Filter: FilterConfig{
			RulesPath:          os.Getenv("FILTER_RULES_PATH"),
			RegexCacheSize:     envInt("REGEX_CACHE_SIZE", 256),
			RateLimitCacheSize: envInt("RATE_LIMIT_CACHE_SIZE", 10000),
			PublishTimeout:     time.Duration(envInt("NATS_PUBLISH_TIMEOUT_MS", 2000)) * time.Millisecond,
		},
		API: APIConfig{
			Port: apiPort,
			URL:  apiURL,
		},
		DataDir: dataDir,
		NATSURL: os.Getenv("NATS_URL"),
		Env:     os.Getenv("ENV"),
		Debug:   os.Getenv("DEBUG") == "true",
	}
}

// envInt reads an integer variable, falling back to def when unset or malformed
func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsAdmin reports whether openID may run admin commands
func (c *FeishuConfig) IsAdmin(openID string) bool {
	for _, id := range c.AdminIDs {
		if id == openID {
			return true
		}
	}
	return false
}

// ToQueueConfig converts to the queue usecase configuration
func (c *QueueConfig) ToQueueConfig() usecase.QueueConfig {
	return usecase.QueueConfig{
		MaxSize:       c.MaxSize,
		EvictionSlack: c.EvictionSlack,
		MaxRetries:    c.MaxRetries,
	}
}

// ToFilterConfig converts to the filter usecase configuration
func (c *FilterConfig) ToFilterConfig() usecase.FilterConfig {
	return usecase.FilterConfig{
		RegexCacheSize:     c.RegexCacheSize,
		RateLimitCacheSize: c.RateLimitCacheSize,
		PublishTimeout:     c.PublishTimeout,
	}
}

// Validate validates the configuration needed by the bridge
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if c.Danmaku.BaseURL == "" {
		return &ConfigError{Field: "DANMAKU_BASE_URL", Message: "required"}
	}
	if c.Danmaku.APIKey == "" {
		return &ConfigError{Field: "DANMAKU_API_KEY", Message: "required"}
	}
	if c.Danmaku.RPS <= 0 {
		return &ConfigError{Field: "DANMAKU_RPS", Message: "must be positive"}
	}
	if c.Queue.MaxSize <= 0 {
		return &ConfigError{Field: "QUEUE_MAX_SIZE", Message: "must be positive"}
	}
	if c.Queue.EvictionSlack < 0 {
		return &ConfigError{Field: "QUEUE_EVICTION_SLACK", Message: "must not be negative"}
	}
	if c.Queue.MaxRetries <= 0 {
		return &ConfigError{Field: "QUEUE_MAX_RETRIES", Message: "must be positive"}
	}
	if c.Queue.Interval <= 0 {
		return &ConfigError{Field: "QUEUE_INTERVAL_MS", Message: "must be positive"}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return &ConfigError{Field: "API_PORT", Message: "must be a valid port"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
