package common

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Vision   VisionConfig
	Secrets  SecretsConfig
	Queue    QueueConfig
	OAuth    OAuthConfig
	Storage  StorageConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr string
}

// VisionConfig holds document-understanding service configuration
type VisionConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// SecretsConfig holds the credential sealing key (hex, 32 bytes decoded).
type SecretsConfig struct {
	CredentialKey string
}

// QueueConfig holds worker pool sizing
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
	MaxDeliveries  int
}

// OAuthConfig holds per-service OAuth client settings
type OAuthConfig struct {
	SheetsClientID     string
	SheetsClientSecret string
	SheetsTokenURL     string
	NotionClientID     string
	NotionClientSecret string
	NotionTokenURL     string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	RootDir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Vision: VisionConfig{
			BaseURL:     getEnv("VISION_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("VISION_API_KEY", ""),
			Model:       getEnv("VISION_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("VISION_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("VISION_TIMEOUT", 45*time.Second),
		},
		Secrets: SecretsConfig{
			CredentialKey: getEnv("CREDENTIAL_KEY", ""),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", 4),
			Size:           getEnvAsInt("QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 3*time.Minute),
			MaxDeliveries:  getEnvAsInt("QUEUE_MAX_DELIVERIES", 3),
		},
		OAuth: OAuthConfig{
			SheetsClientID:     getEnv("SHEETS_CLIENT_ID", ""),
			SheetsClientSecret: getEnv("SHEETS_CLIENT_SECRET", ""),
			SheetsTokenURL:     getEnv("SHEETS_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			NotionClientID:     getEnv("NOTION_CLIENT_ID", ""),
			NotionClientSecret: getEnv("NOTION_CLIENT_SECRET", ""),
			NotionTokenURL:     getEnv("NOTION_TOKEN_URL", "https://api.notion.com/v1/oauth/token"),
		},
		Storage: StorageConfig{
			RootDir: getEnv("STORAGE_ROOT", "./data"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: DB_URL is required")
	}
	if c.Vision.APIKey == "" {
		return fmt.Errorf("config: VISION_API_KEY is required")
	}
	if c.Secrets.CredentialKey == "" {
		return fmt.Errorf("config: CREDENTIAL_KEY is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config: HTTP_ADDR is required")
	}
	return nil
}
