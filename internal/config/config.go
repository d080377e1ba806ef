package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the RingSight server.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Detection DetectionConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// RedisConfig is optional: with no URL the server runs without the status
// mirror and falls back to in-process rate limiting.
type RedisConfig struct {
	URL string
}

type DetectionConfig struct {
	// Timeout bounds the single detection call per job.
	Timeout time.Duration
	// Preset selects the threshold set: balanced, aggressive, conservative.
	Preset string
	// MinSuspicionScore overrides the preset threshold when > 0.
	MinSuspicionScore float64
	// SmurfingThreshold overrides the reporting threshold when > 0.
	SmurfingThreshold float64
}

type JobsConfig struct {
	// Retention is how long terminal jobs stay queryable before eviction.
	Retention time.Duration
	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration
	// MaxUploadBytes caps the accepted artifact size.
	MaxUploadBytes int64
}

type RateLimitConfig struct {
	RequestsPerMin int
}

var validPresets = map[string]bool{
	"balanced":     true,
	"aggressive":   true,
	"conservative": true,
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("RINGSIGHT_PORT", 8080),
			Env:  envString("RINGSIGHT_ENV", "development"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Detection: DetectionConfig{
			Timeout:           envDurationSecs("DETECTION_TIMEOUT_SECS", 120*time.Second),
			Preset:            envString("DETECTION_PRESET", "balanced"),
			MinSuspicionScore: envFloat("DETECTION_MIN_SCORE", 0),
			SmurfingThreshold: envFloat("DETECTION_SMURFING_THRESHOLD", 0),
		},
		Jobs: JobsConfig{
			Retention:      envDuration("JOB_RETENTION", 1*time.Hour),
			SweepInterval:  envDuration("JOB_SWEEP_INTERVAL", 5*time.Minute),
			MaxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("RINGSIGHT_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Detection.Timeout <= 0 {
		return fmt.Errorf("DETECTION_TIMEOUT_SECS must be positive")
	}
	if !validPresets[c.Detection.Preset] {
		return fmt.Errorf("DETECTION_PRESET must be one of balanced, aggressive, conservative; got %q", c.Detection.Preset)
	}
	if c.Detection.MinSuspicionScore < 0 || c.Detection.MinSuspicionScore > 100 {
		return fmt.Errorf("DETECTION_MIN_SCORE must be between 0 and 100, got %v", c.Detection.MinSuspicionScore)
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be positive")
	}
	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("JOB_SWEEP_INTERVAL must be positive")
	}
	if c.Jobs.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
