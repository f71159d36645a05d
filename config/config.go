package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Database. Empty keeps job handles in files under each exp_dir.
	DatabaseURL string

	// Server
	ServerPort string

	// AWS
	AWSRegion string

	// Execution backend: local, kubernetes or memory
	Backend      string
	K8sNamespace string
	Kubeconfig   string

	// ExamplesDir holds <model>/conf/<task>.yaml for the task commands
	ExamplesDir string

	// PollInterval is how often job status is polled
	PollInterval time.Duration
}

// Load reads .env when present, then loads configuration from environment
// variables
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		Backend:      getEnv("FLAGSCALE_BACKEND", "local"),
		K8sNamespace: getEnv("K8S_NAMESPACE", "default"),
		Kubeconfig:   getEnv("KUBECONFIG", ""),
		ExamplesDir:  getEnv("FLAGSCALE_EXAMPLES_DIR", filepath.Join(".", "examples")),
		PollInterval: getEnvDuration("FLAGSCALE_POLL_INTERVAL", 5*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or bare seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
