// Package config loads runtime configuration for the canopy binaries from
// the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/jacentio/canopy/store"
)

// Config holds all application configuration
type Config struct {
	Environment string

	// AWS configuration
	AWSRegion  string
	AWSProfile string

	// Table layout
	TableName        string
	PathIndex        string
	TreeName         string
	NumShards        int
	MaxTransactItems int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	defaults := store.DefaultConfig()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		AWSRegion:   getEnv("AWS_REGION", ""),
		AWSProfile:  getEnv("AWS_PROFILE", ""),

		TableName:        getEnv("TABLE_NAME", defaults.NodeTable),
		PathIndex:        getEnv("PATH_INDEX", defaults.PathIndex),
		TreeName:         getEnv("TREE_NAME", defaults.TreeName),
		NumShards:        getEnvInt("NUM_SHARDS", defaults.NumShards),
		MaxTransactItems: getEnvInt("MAX_TRANSACT_ITEMS", defaults.MaxTransactItems),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every value is usable. Unlike store.Config, which
// clamps silently, a deployment with an out-of-range value is rejected.
func (c *Config) Validate() error {
	if c.TableName == "" {
		return fmt.Errorf("TABLE_NAME is required")
	}
	if c.NumShards < 1 || c.NumShards > 256 {
		return fmt.Errorf("NUM_SHARDS must be between 1 and 256, got %d", c.NumShards)
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		return fmt.Errorf("MAX_TRANSACT_ITEMS must be between 1 and 100, got %d", c.MaxTransactItems)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StoreConfig returns the store configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		NodeTable:        c.TableName,
		PathIndex:        c.PathIndex,
		TreeName:         c.TreeName,
		NumShards:        c.NumShards,
		MaxTransactItems: c.MaxTransactItems,
	}
}

// NewLogger builds a JSON logger in production and a console logger
// otherwise, both at LogLevel.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewDevelopmentConfig()
	if c.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level

	return zc.Build(zap.Fields(
		zap.String("environment", c.Environment),
		zap.String("table", c.TableName),
	))
}

// LoadAWSConfig resolves AWS credentials and region for the configured
// profile.
func (c *Config) LoadAWSConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(c.AWSRegion))
	}
	if c.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.AWSProfile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
