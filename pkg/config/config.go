package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Chat backend endpoints
	Chat struct {
		WSURL      string
		APIBaseURL string
		// How long the socket dial may take before failing
		HandshakeTimeout time.Duration
		// Outbound frames per second, and burst, on one socket
		SendRate  float64
		SendBurst int
		// Maximum inbound frame size
		MaxMessageSize int64
	}

	// Anonymous customer session persistence
	Session struct {
		TTL       time.Duration
		RedisURL  string
		KeyPrefix string
	}

	// JWT configuration for admin identity
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Mock backend server (local development and integration tests)
	MockServer struct {
		Port           string
		FAQReplyDelay  time.Duration
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Metrics exposure
	Metrics struct {
		Enabled bool
		Port    string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		instance.Chat.WSURL = getEnvString("CHAT_WS_URL", "ws://localhost:8081/ws/chat")
		instance.Chat.APIBaseURL = getEnvString("CHAT_API_URL", "http://localhost:8081")
		instance.Chat.HandshakeTimeout = getEnvDuration("CHAT_HANDSHAKE_TIMEOUT", 10*time.Second)
		instance.Chat.SendRate = float64(getEnvInt("CHAT_SEND_RATE", 10))
		instance.Chat.SendBurst = getEnvInt("CHAT_SEND_BURST", 20)
		instance.Chat.MaxMessageSize = getEnvInt64("CHAT_MAX_MESSAGE_SIZE", 512*1024) // 512KB

		instance.Session.TTL = getEnvDuration("SESSION_TTL", 5*time.Hour)
		instance.Session.RedisURL = getEnvString("SESSION_REDIS_URL", "")
		instance.Session.KeyPrefix = getEnvString("SESSION_KEY_PREFIX", "chatsync:session:")

		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		instance.MockServer.Port = getEnvString("MOCK_SERVER_PORT", "8081")
		instance.MockServer.FAQReplyDelay = getEnvDuration("MOCK_FAQ_REPLY_DELAY", 1500*time.Millisecond)
		instance.MockServer.RateLimit = float64(getEnvInt("MOCK_RATE_LIMIT", 20))
		instance.MockServer.RateLimitBurst = getEnvInt("MOCK_RATE_LIMIT_BURST", 40)
		instance.MockServer.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		instance.Metrics.Enabled = getEnvBool("METRICS_ENABLED", true)
		instance.Metrics.Port = getEnvString("METRICS_PORT", "2112")
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
