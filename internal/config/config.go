package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string
	ChunkSizeMB int
	MaxRetries  int

	// Storage configuration
	StorageBackend string // "disk" or "minio"
	StagingDir     string
	ArtifactDir    string

	// Session lifecycle
	SessionTTLMinutes    int
	SweepIntervalSeconds int

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// MySQL configuration
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "chunkflow-service"),
		ChunkSizeMB: getEnvAsInt("CHUNK_SIZE_MB", 1),
		MaxRetries:  getEnvAsInt("MAX_RETRIES", 3),

		// Storage defaults
		StorageBackend: getEnv("STORAGE_BACKEND", "disk"),
		StagingDir:     getEnv("STAGING_DIR", "./data/staging"),
		ArtifactDir:    getEnv("ARTIFACT_DIR", "./data/artifacts"),

		// Session lifecycle defaults
		SessionTTLMinutes:    getEnvAsInt("SESSION_TTL_MINUTES", 60),
		SweepIntervalSeconds: getEnvAsInt("SWEEP_INTERVAL_SECONDS", 300),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "chunkflow"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// MySQL defaults
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "chunkflow"),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Jaeger defaults
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:4318"),
	}

	if config.ChunkSizeMB <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE_MB must be positive, got %d", config.ChunkSizeMB)
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("MAX_RETRIES must be positive, got %d", config.MaxRetries)
	}
	if config.StorageBackend != "disk" && config.StorageBackend != "minio" {
		return nil, fmt.Errorf("STORAGE_BACKEND must be \"disk\" or \"minio\", got %q", config.StorageBackend)
	}

	return config, nil
}

// GetDSN returns the MySQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetSessionTTL returns the idle-session expiry duration
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// GetSweepInterval returns how often the janitor scans for idle sessions
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
