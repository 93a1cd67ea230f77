// Package config assembles the call service configuration from the
// environment. Secrets accept a _FILE suffixed variable for Docker secrets.
package config

import (
	"time"

	"github.com/meghabhansali2911/customer-engagement-platform/pkg/env"
)

// Config is the full call service configuration
type Config struct {
	Server   Server
	Token    Token
	Storage  Storage
	Redis    Redis
	Cobrowse Cobrowse
	Log      Log

	// TokenTTL bounds session join token lifetime
	TokenTTL time.Duration

	// MaxSignalingConnections caps concurrent signaling WebSockets
	MaxSignalingConnections int
}

// Server holds HTTP listener settings
type Server struct {
	Port            string
	ShutdownTimeout time.Duration
}

// Token holds join token signing settings
type Token struct {
	APIKey string
	Secret string
}

// Storage holds object storage settings
type Storage struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	URLTTL    time.Duration
}

// Redis holds the cross-instance signaling relay settings
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Cobrowse holds the external co-browse platform settings
type Cobrowse struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Log holds logger settings
type Log struct {
	Level  string
	Format string
}

// Load reads configuration from the environment with development defaults
func Load() *Config {
	return &Config{
		Server: Server{
			Port:            env.GetString("PORT", "8080"),
			ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Token: Token{
			APIKey: env.GetString("SESSION_API_KEY", "dev-api-key"),
			Secret: env.GetStringFromFile("SESSION_TOKEN_SECRET", "dev-secret-change-in-production"),
		},
		Storage: Storage{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetString("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env.GetString("MINIO_BUCKET", "call-files"),
			Secure:    env.GetBool("MINIO_SECURE", false),
			URLTTL:    env.GetDuration("MINIO_URL_TTL", time.Hour),
		},
		Redis: Redis{
			Addr:     env.GetString("REDIS_ADDR", ""),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
		},
		Cobrowse: Cobrowse{
			BaseURL: env.GetString("COBROWSE_BASE_URL", ""),
			APIKey:  env.GetStringFromFile("COBROWSE_API_KEY", ""),
			Timeout: env.GetDuration("COBROWSE_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
		TokenTTL:                env.GetDuration("SESSION_TOKEN_TTL", 7*24*time.Hour),
		MaxSignalingConnections: env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000),
	}
}
