package config

import (
	"os"
	"strconv"
	"strings"

	"equityaudit/internal/errors"
)

// Config represents the complete run configuration
type Config struct {
	Input       InputConfig
	Run         RunConfig
	Output      OutputConfig
	Calibration CalibrationConfig
	LogLevel    string
}

// InputConfig says where entities and observed ground truth come from. With
// no entities file, synthetic tracts are generated.
type InputConfig struct {
	EntitiesFile     string
	ObservationsFile string
	SyntheticTracts  int
}

// RunConfig holds execution settings
type RunConfig struct {
	Seed     int64
	Workers  int
	Domains  []string
	FailFast bool
}

// OutputConfig holds report output settings
type OutputConfig struct {
	Dir string
}

// CalibrationConfig points at the parameter overrides. StrataCount, when
// non-zero, overrides the file's strata_count.
type CalibrationConfig struct {
	File        string
	StrataCount int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	seed, err := getEnvInt64("SEED", 42)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Input:       *loadInputConfig(),
		Run:         *loadRunConfig(seed),
		Output:      OutputConfig{Dir: getEnvOrDefault("OUTPUT_DIR", "./out/data")},
		Calibration: *loadCalibrationConfig(),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadInputConfig() *InputConfig {
	return &InputConfig{
		EntitiesFile:     getEnvOrDefault("ENTITIES_FILE", ""),
		ObservationsFile: getEnvOrDefault("OBSERVATIONS_FILE", ""),
		SyntheticTracts:  getEnvIntOrDefault("SYNTHETIC_TRACTS", 60),
	}
}

func loadRunConfig(seed int64) *RunConfig {
	return &RunConfig{
		Seed:     seed,
		Workers:  getEnvIntOrDefault("WORKERS", 1),
		Domains:  SplitList(os.Getenv("DOMAINS")),
		FailFast: getEnvBoolOrDefault("FAIL_FAST", true),
	}
}

func loadCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		File:        getEnvOrDefault("CALIBRATION_FILE", ""),
		StrataCount: getEnvIntOrDefault("STRATA_COUNT", 0),
	}
}

// Validate checks the settings that flags may also have changed.
func (c *Config) Validate() error {
	if c.Run.Workers < 1 {
		return errors.ConfigInvalid("WORKERS must be at least 1")
	}
	if c.Output.Dir == "" {
		return errors.ConfigInvalid("OUTPUT_DIR is required")
	}
	if c.Calibration.StrataCount != 0 && c.Calibration.StrataCount < 2 {
		return errors.ConfigInvalid("STRATA_COUNT must be at least 2")
	}
	if c.Input.EntitiesFile == "" && c.Input.SyntheticTracts < 2 {
		return errors.ConfigInvalid("SYNTHETIC_TRACTS must be at least 2 when no entities file is given")
	}
	if c.Input.ObservationsFile != "" && c.Input.EntitiesFile == "" {
		return errors.ConfigInvalid("OBSERVATIONS_FILE needs ENTITIES_FILE")
	}
	return nil
}

// SplitList parses a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 rejects a malformed value instead of falling back.
func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.ConfigInvalid(key + " must be an integer")
	}
	return n, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
