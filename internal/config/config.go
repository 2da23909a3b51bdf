// Package config provides environment configuration for the API server.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	Environment        string
	AllowedOrigins     []string

	// Storage
	StoreDriver   string
	BoltPath      string
	MongoURI      string
	MongoDatabase string

	// Event relay between instances
	EventBus     string
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	RedisURL     string

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DefaultModel    string
	MaxSteps        int
	LLMTimeout      time.Duration

	// Outbound rate gate
	RateGateCapacity int
	RateGateInterval time.Duration

	// Inbound rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Push channels and background jobs
	HeartbeatInterval time.Duration
	JobConcurrency    int
	MaxUploadBytes    int64

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// NewViper returns a viper instance reading the environment with every
// default set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 0) // streams are long lived
	v.SetDefault("ENV", "production")
	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{}) // space separated

	v.SetDefault("STORE_DRIVER", "bolt")
	v.SetDefault("BOLT_PATH", "data/canvas-chat.bolt")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "canvas_chat")

	v.SetDefault("EVENT_BUS", "local")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	v.SetDefault("JWT_SECRET", "development-secret-change-in-production")

	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("DEFAULT_MODEL", "gpt-4o-mini")
	v.SetDefault("MAX_STEPS", 5)
	v.SetDefault("LLM_TIMEOUT", 5*time.Minute)

	v.SetDefault("RATE_GATE_CAPACITY", 20)
	v.SetDefault("RATE_GATE_INTERVAL", time.Minute)

	v.SetDefault("RATE_LIMIT_REQUESTS", 60)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)

	v.SetDefault("HEARTBEAT_INTERVAL", 15*time.Second)
	v.SetDefault("JOB_CONCURRENCY", 4)
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)

	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_ENABLED", false)
	return v
}

// Load reads configuration from v. A nil v reads the environment.
func Load(v *viper.Viper) *Config {
	if v == nil {
		v = NewViper()
	}
	return &Config{
		// Server
		ServerPort:         v.GetString("PORT"),
		ServerReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		ServerWriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		Environment:        v.GetString("ENV"),
		AllowedOrigins:     v.GetStringSlice("CORS_ALLOWED_ORIGINS"),

		// Storage
		StoreDriver:   v.GetString("STORE_DRIVER"),
		BoltPath:      v.GetString("BOLT_PATH"),
		MongoURI:      v.GetString("MONGO_URI"),
		MongoDatabase: v.GetString("MONGO_DATABASE"),

		// Event relay
		EventBus:     v.GetString("EVENT_BUS"),
		NATSURL:      v.GetString("NATS_URL"),
		NATSCAFile:   v.GetString("NATS_CA_FILE"),
		NATSCertFile: v.GetString("NATS_CERT_FILE"),
		NATSKeyFile:  v.GetString("NATS_KEY_FILE"),
		NATSToken:    v.GetString("NATS_TOKEN"),
		RedisURL:     v.GetString("REDIS_URL"),

		// JWT
		JWTSecret: v.GetString("JWT_SECRET"),

		// LLM
		LLMProvider:     v.GetString("LLM_PROVIDER"),
		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:   v.GetString("OPENAI_BASE_URL"),
		DefaultModel:    v.GetString("DEFAULT_MODEL"),
		MaxSteps:        v.GetInt("MAX_STEPS"),
		LLMTimeout:      v.GetDuration("LLM_TIMEOUT"),

		// Rate gate
		RateGateCapacity: v.GetInt("RATE_GATE_CAPACITY"),
		RateGateInterval: v.GetDuration("RATE_GATE_INTERVAL"),

		// Rate limiting
		RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:   v.GetDuration("RATE_LIMIT_WINDOW"),

		// Channels and jobs
		HeartbeatInterval: v.GetDuration("HEARTBEAT_INTERVAL"),
		JobConcurrency:    v.GetInt("JOB_CONCURRENCY"),
		MaxUploadBytes:    v.GetInt64("MAX_UPLOAD_BYTES"),

		// Logging
		LogLevel: v.GetString("LOG_LEVEL"),

		// Tracing
		TracingEndpoint: v.GetString("TRACING_ENDPOINT"),
		TracingEnabled:  v.GetBool("TRACING_ENABLED"),
	}
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
