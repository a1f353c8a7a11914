// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

const envPrefix = "SQL_AGENT"

// Config represents the complete application configuration
type Config struct {
	LLM        LLMConfig        `mapstructure:"llm"`
	Warehouse  WarehouseConfig  `mapstructure:"warehouse"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LLMConfig selects the completion provider and its models
type LLMConfig struct {
	Provider        string  `mapstructure:"provider"`
	APIKey          string  `mapstructure:"apikey"`
	Endpoint        string  `mapstructure:"endpoint"`
	AnthropicAPIKey string  `mapstructure:"anthropic_apikey"`
	Model           string  `mapstructure:"model"`
	FastModel       string  `mapstructure:"fast_model"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxRetries      int     `mapstructure:"max_retries"`
}

// WarehouseConfig describes the database the generated SQL runs against
type WarehouseConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	Dialect      string        `mapstructure:"dialect"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	// BreakerFailures consecutive connection failures open the circuit
	// for BreakerCooldown.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// CatalogConfig points at the schema catalog and business glossary files.
// Empty paths fall back to the built-in samples. RefreshOnStart re-runs the
// catalog's value and date-range queries against the warehouse at startup.
type CatalogConfig struct {
	SchemaPath     string `mapstructure:"schema_path"`
	GlossaryPath   string `mapstructure:"glossary_path"`
	RefreshOnStart bool   `mapstructure:"refresh_on_start"`
}

// AgentConfig holds the limits of the turn state machine
type AgentConfig struct {
	ResultTokenBudget   int           `mapstructure:"result_token_budget"`
	MaxRefinements      int           `mapstructure:"max_refinements"`
	MaxRepairs          int           `mapstructure:"max_repairs"`
	HistoryTokenCeiling int           `mapstructure:"history_token_ceiling"`
	HistoryKeepMessages int           `mapstructure:"history_keep_messages"`
	SummaryMaxTokens    int           `mapstructure:"summary_max_tokens"`
	MaxFollowUps        int           `mapstructure:"max_follow_ups"`
	ParallelQueries     int           `mapstructure:"parallel_queries"`
	TurnTimeout         time.Duration `mapstructure:"turn_timeout"`
}

// CheckpointConfig selects where conversation threads are persisted
type CheckpointConfig struct {
	StorageType string        `mapstructure:"storage_type"`
	DBPath      string        `mapstructure:"db_path"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxThreads  int           `mapstructure:"max_threads"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	EnvFile          string
	RequireFile      bool
	ValidateRequired bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		RequireFile:      false,
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	loadDotEnv(opts.EnvFile)

	v := viper.New()
	setDefaults(v)

	fileFound, err := setConfigFile(v, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}
	if !fileFound && opts.RequireFile {
		return nil, fmt.Errorf("%w: no config file found in default locations (./configs/config.yaml, ./config.yaml)", ErrMissingRequiredField)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	if fileFound {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Warehouse.Dialect == "" {
		config.Warehouse.Dialect = DialectForDriver(config.Warehouse.Driver)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// loadDotEnv loads a .env file into the process environment. A missing file is not an error.
func loadDotEnv(path string) {
	if path != "" {
		_ = godotenv.Load(path)
		return
	}
	_ = godotenv.Load()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.fast_model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("warehouse.driver", "sqlite3")
	v.SetDefault("warehouse.dsn", "file:warehouse.db?mode=ro")
	v.SetDefault("warehouse.query_timeout", 60*time.Second)
	v.SetDefault("warehouse.max_open_conns", 4)
	v.SetDefault("warehouse.breaker_failures", 5)
	v.SetDefault("warehouse.breaker_cooldown", 30*time.Second)

	v.SetDefault("catalog.schema_path", "")
	v.SetDefault("catalog.glossary_path", "")
	v.SetDefault("catalog.refresh_on_start", false)

	v.SetDefault("agent.result_token_budget", 500)
	v.SetDefault("agent.max_refinements", 3)
	v.SetDefault("agent.max_repairs", 3)
	v.SetDefault("agent.history_token_ceiling", 1000)
	v.SetDefault("agent.history_keep_messages", 4)
	v.SetDefault("agent.summary_max_tokens", 400)
	v.SetDefault("agent.max_follow_ups", 2)
	v.SetDefault("agent.parallel_queries", 1)
	v.SetDefault("agent.turn_timeout", 5*time.Minute)

	v.SetDefault("checkpoint.storage_type", "memory")
	v.SetDefault("checkpoint.db_path", "./checkpoints.db")
	v.SetDefault("checkpoint.ttl", 24*time.Hour)
	v.SetDefault("checkpoint.max_threads", 10000)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// setConfigFile sets the configuration file path with fallback logic and
// reports whether a file will be read.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return true, nil
		}
	}

	return false, nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":    "llm.apikey",
		"OPENAI_ENDPOINT":   "llm.endpoint",
		"ANTHROPIC_API_KEY": "llm.anthropic_apikey",
		"LLM_PROVIDER":      "llm.provider",
		"WAREHOUSE_DRIVER":  "warehouse.driver",
		"WAREHOUSE_DSN":     "warehouse.dsn",
		"LOG_LEVEL":         "logging.level",
		"LOG_FORMAT":        "logging.format",
		"LOG_OUTPUT":        "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errs []ValidationError

	switch config.LLM.Provider {
	case ProviderOpenAI:
		if config.LLM.APIKey == "" {
			errs = append(errs, ValidationError{
				Field:   "llm.apikey",
				Message: "OpenAI API key is required. Set via config file or OPENAI_API_KEY environment variable",
			})
		}
	case ProviderAnthropic:
		if config.LLM.AnthropicAPIKey == "" {
			errs = append(errs, ValidationError{
				Field:   "llm.anthropic_apikey",
				Message: "Anthropic API key is required. Set via config file or ANTHROPIC_API_KEY environment variable",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("provider must be one of: %s", strings.Join([]string{ProviderOpenAI, ProviderAnthropic}, ", ")),
		})
	}

	if config.LLM.Model == "" {
		errs = append(errs, ValidationError{Field: "llm.model", Message: "model is required"})
	}
	if config.LLM.MaxTokens <= 0 {
		errs = append(errs, ValidationError{Field: "llm.max_tokens", Message: "max_tokens must be greater than 0"})
	}
	if config.LLM.Temperature < 0 || config.LLM.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "llm.temperature", Message: "temperature must be between 0 and 2"})
	}

	if !contains(SupportedDrivers(), config.Warehouse.Driver) {
		errs = append(errs, ValidationError{
			Field:   "warehouse.driver",
			Message: fmt.Sprintf("driver must be one of: %s", strings.Join(SupportedDrivers(), ", ")),
		})
	}
	if config.Warehouse.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "warehouse.dsn",
			Message: "warehouse DSN is required. Set via config file or WAREHOUSE_DSN environment variable",
		})
	}

	positive := map[string]int{
		"agent.result_token_budget":   config.Agent.ResultTokenBudget,
		"agent.max_refinements":       config.Agent.MaxRefinements,
		"agent.max_repairs":           config.Agent.MaxRepairs,
		"agent.history_token_ceiling": config.Agent.HistoryTokenCeiling,
		"agent.history_keep_messages": config.Agent.HistoryKeepMessages,
		"agent.summary_max_tokens":    config.Agent.SummaryMaxTokens,
		"agent.parallel_queries":      config.Agent.ParallelQueries,
	}
	for _, field := range sortedKeys(positive) {
		if positive[field] <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be greater than 0"})
		}
	}
	if config.Agent.MaxFollowUps < 0 || config.Agent.MaxFollowUps > 2 {
		errs = append(errs, ValidationError{Field: "agent.max_follow_ups", Message: "max_follow_ups must be between 0 and 2"})
	}

	validStorageTypes := []string{"memory", "sqlite"}
	if !contains(validStorageTypes, config.Checkpoint.StorageType) {
		errs = append(errs, ValidationError{
			Field:   "checkpoint.storage_type",
			Message: fmt.Sprintf("storage type must be one of: %s", strings.Join(validStorageTypes, ", ")),
		})
	}
	if config.Checkpoint.StorageType == "sqlite" && config.Checkpoint.DBPath != "" {
		if err := validateDirectoryExists(filepath.Dir(config.Checkpoint.DBPath)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "checkpoint.db_path",
				Message: fmt.Sprintf("checkpoint database directory does not exist: %s", filepath.Dir(config.Checkpoint.DBPath)),
			})
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = maskValue(masked.LLM.APIKey)
	}
	if masked.LLM.AnthropicAPIKey != "" {
		masked.LLM.AnthropicAPIKey = maskValue(masked.LLM.AnthropicAPIKey)
	}
	masked.Warehouse.DSN = maskDSN(masked.Warehouse.DSN)

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

// maskDSN hides the password of URL-style DSNs and leaves other forms alone.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// WatchConfig reloads the configuration whenever the file changes and hands
// the new value to callback. Invalid edits are logged and ignored.
func WatchConfig(configPath string, logger *zap.Logger, callback func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	found, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no config file to watch", ErrMissingRequiredField)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       v.ConfigFileUsed(),
			RequireFile:      true,
			ValidateRequired: true,
		})
		if err != nil {
			logger.Warn("Failed to reload config", zap.Error(err))
			return
		}

		callback(config)
	})
	v.WatchConfig()

	return nil
}
