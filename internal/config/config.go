package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Render    RenderConfig
	Session   SessionConfig
	Output    OutputConfig
	Redis     RedisConfig
	Defaults  DefaultsConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// RenderConfig holds the live render loop and browser configuration
type RenderConfig struct {
	SessionID      string        // session rendered by the live loop
	Interval       time.Duration // minimum time between successful frames
	CheckInterval  time.Duration // how often the loop checks whether a frame is due
	LoadTimeout    time.Duration // bound on a single content load + capture
	ViewportWidth  int
	ViewportHeight int
	ChromePath     string // empty uses the chromedp lookup
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// SessionConfig holds session expiry configuration
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// OutputConfig holds the directory rendered PNG files are written to
type OutputConfig struct {
	Dir string
}

// RedisConfig holds Redis-related configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	UpdateStream  string // stream of remote session config updates
	ConsumerGroup string
	ConsumerName  string // empty derives one from the hostname
}

// DefaultsConfig points at the optional YAML file overriding timer defaults
type DefaultsConfig struct {
	Path  string
	Watch bool
}

// RateLimitConfig holds limits for expensive endpoints
type RateLimitConfig struct {
	GeneratePerMinute int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("PORT", 5001),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Render: RenderConfig{
			SessionID:      getEnv("RENDER_SESSION_ID", "default"),
			Interval:       getEnvAsDuration("RENDER_INTERVAL", time.Second),
			CheckInterval:  getEnvAsDuration("RENDER_CHECK_INTERVAL", 100*time.Millisecond),
			LoadTimeout:    getEnvAsDuration("RENDER_LOAD_TIMEOUT", 10*time.Second),
			ViewportWidth:  getEnvAsInt("RENDER_VIEWPORT_WIDTH", 360),
			ViewportHeight: getEnvAsInt("RENDER_VIEWPORT_HEIGHT", 100),
			ChromePath:     getEnv("CHROME_PATH", ""),
			BackoffBase:    getEnvAsDuration("RENDER_BACKOFF_BASE", time.Second),
			BackoffMax:     getEnvAsDuration("RENDER_BACKOFF_MAX", 30*time.Second),
		},
		Session: SessionConfig{
			TTL:           getEnvAsDuration("SESSION_TTL", time.Hour),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Output: OutputConfig{
			Dir: getEnv("OUTPUT_DIR", "public/timers"),
		},
		Redis: RedisConfig{
			Addr:          getRedisAddr(),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			UpdateStream:  getEnv("REDIS_UPDATE_STREAM", "countdown:config_updates"),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "countdown-renderers"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", ""),
		},
		Defaults: DefaultsConfig{
			Path:  getEnv("TIMER_DEFAULTS_PATH", ""),
			Watch: getEnvAsBool("TIMER_DEFAULTS_WATCH", true),
		},
		RateLimit: RateLimitConfig{
			GeneratePerMinute: getEnvAsInt("GENERATE_RATE_LIMIT", 30),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// getRedisAddr prefers REDIS_URL (with or without the redis:// scheme) over REDIS_ADDR.
// Redis stays disabled unless one of them is set.
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms") or bare integers as seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
