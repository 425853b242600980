package config

import (
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds every env-configurable setting the server and CLI
// need: the database, the SN cache, and the daily counter's timezone
// scope (§6.3).
type Config struct {
	DatabaseURL   string
	APIPort       int
	AdminUsername string
	Environment   string
	Debug         bool

	RedisAddr string
	Timezone  string

	WorkflowsDir string
}

func init() {
	viper.SetEnvPrefix("")
	viper.AutomaticEnv()
}

// Load populates a Config from the process environment via viper,
// falling back to defaults sized for local development.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   getEnvOrDefault("DATABASE_URL", "./ticketflow.db"),
		APIPort:       getEnvIntOrDefault("API_PORT", 8585),
		AdminUsername: getEnvOrDefault("ADMIN_USERNAME", "admin"),
		Environment:   getEnvOrDefault("ENVIRONMENT", "development"),
		Debug:         getEnvBoolOrDefault("TICKETFLOW_DEBUG", false),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		Timezone:      getEnvOrDefault("TICKETFLOW_TIMEZONE", "UTC"),
		WorkflowsDir:  getEnvOrDefault("WORKFLOWS_DIR", "./workflows"),
	}
	return cfg, nil
}

// Location resolves cfg.Timezone, falling back to UTC on a bad name
// rather than failing server startup over a typo.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := viper.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := viper.GetString(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := viper.GetString(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
