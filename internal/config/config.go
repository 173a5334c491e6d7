// Package config loads engine configuration from a yaml file with
// environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the warmup engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Google        GoogleConfig        `yaml:"google"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
	Bands         BandsConfig         `yaml:"bands"`
	Intervals     IntervalsConfig     `yaml:"intervals"`
	Plan          PlanConfig          `yaml:"plan"`
	Engagement    EngagementConfig    `yaml:"engagement"`
	Score         ScoreConfig         `yaml:"score"`
}

// ServerConfig holds the admin/analytics HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis settings used for cross-host
// locking. When URL is empty the engine falls back to PG advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GoogleConfig holds the OAuth client used by the Gmail adapter when a
// stored credential bundle lacks its own client id/secret.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// BusinessHoursConfig is the local send window (24-hour format).
type BusinessHoursConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// BandsConfig holds the share of the daily plan given to each activity band.
type BandsConfig struct {
	PeakWeight   float64 `yaml:"peak_weight"`
	NormalWeight float64 `yaml:"normal_weight"`
	LowWeight    float64 `yaml:"low_weight"`
}

// IntervalsConfig holds the tick cadences of the periodic workers.
type IntervalsConfig struct {
	DispatchSeconds     int `yaml:"dispatch_seconds"`
	EngagementSeconds   int `yaml:"engagement_seconds"`
	ReplyPollSeconds    int `yaml:"reply_poll_seconds"`
	SpamRecoverySeconds int `yaml:"spam_recovery_seconds"`
	ScoreSeconds        int `yaml:"score_seconds"`
	DayAdvanceSeconds   int `yaml:"day_advance_seconds"`
}

// Dispatch returns the dispatcher tick interval.
func (c IntervalsConfig) Dispatch() time.Duration {
	return time.Duration(c.DispatchSeconds) * time.Second
}

// Engagement returns the engagement simulator tick interval.
func (c IntervalsConfig) Engagement() time.Duration {
	return time.Duration(c.EngagementSeconds) * time.Second
}

// ReplyPoll returns the reply matcher tick interval.
func (c IntervalsConfig) ReplyPoll() time.Duration {
	return time.Duration(c.ReplyPollSeconds) * time.Second
}

// SpamRecovery returns the spam recovery tick interval.
func (c IntervalsConfig) SpamRecovery() time.Duration {
	return time.Duration(c.SpamRecoverySeconds) * time.Second
}

// Score returns the score engine tick interval.
func (c IntervalsConfig) Score() time.Duration {
	return time.Duration(c.ScoreSeconds) * time.Second
}

// DayAdvance returns the day advancer tick interval.
func (c IntervalsConfig) DayAdvance() time.Duration {
	return time.Duration(c.DayAdvanceSeconds) * time.Second
}

// PlanConfig holds dispatch windows and plan retention.
type PlanConfig struct {
	GraceWindowSeconds int `yaml:"grace_window_seconds"`
	FireWindowSeconds  int `yaml:"fire_window_seconds"`
	RetentionDays      int `yaml:"retention_days"`
	// MaxAttemptsPerDay is the failure budget after which the rest of
	// the day is re-planned instead of retried.
	MaxAttemptsPerDay int `yaml:"max_attempts_per_day"`
}

// GraceWindow returns how far in the past a pending entry is still due.
func (c PlanConfig) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowSeconds) * time.Second
}

// FireWindow returns how far ahead a pending entry counts as due.
func (c PlanConfig) FireWindow() time.Duration {
	return time.Duration(c.FireWindowSeconds) * time.Second
}

// Retention returns how long terminal plan entries are kept.
func (c PlanConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EngagementConfig holds recipient-side simulation knobs.
type EngagementConfig struct {
	OpenDelayMinSeconds  int     `yaml:"open_delay_min_seconds"`
	OpenDelayMaxSeconds  int     `yaml:"open_delay_max_seconds"`
	ReplyDelayMinSeconds int     `yaml:"reply_delay_min_seconds"`
	ReplyDelayMaxSeconds int     `yaml:"reply_delay_max_seconds"`
	StarProbability      float64 `yaml:"star_probability"`
}

// OpenDelayMin returns the minimum delay before an open is simulated.
func (c EngagementConfig) OpenDelayMin() time.Duration {
	return time.Duration(c.OpenDelayMinSeconds) * time.Second
}

// OpenDelayMax returns the maximum delay before an open is simulated.
func (c EngagementConfig) OpenDelayMax() time.Duration {
	return time.Duration(c.OpenDelayMaxSeconds) * time.Second
}

// ReplyDelayMin returns the minimum delay between open and reply.
func (c EngagementConfig) ReplyDelayMin() time.Duration {
	return time.Duration(c.ReplyDelayMinSeconds) * time.Second
}

// ReplyDelayMax returns the maximum delay between open and reply.
func (c EngagementConfig) ReplyDelayMax() time.Duration {
	return time.Duration(c.ReplyDelayMaxSeconds) * time.Second
}

// ScoreConfig holds the reputation scorer settings.
type ScoreConfig struct {
	WindowDays int `yaml:"window_days"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.BusinessHours.Start == 0 {
		cfg.BusinessHours.Start = 9
	}
	if cfg.BusinessHours.End == 0 {
		cfg.BusinessHours.End = 18
	}
	if cfg.Bands.PeakWeight == 0 {
		cfg.Bands.PeakWeight = 0.60
	}
	if cfg.Bands.NormalWeight == 0 {
		cfg.Bands.NormalWeight = 0.30
	}
	if cfg.Bands.LowWeight == 0 {
		cfg.Bands.LowWeight = 0.10
	}
	if cfg.Intervals.DispatchSeconds == 0 {
		cfg.Intervals.DispatchSeconds = 120
	}
	if cfg.Intervals.EngagementSeconds == 0 {
		cfg.Intervals.EngagementSeconds = 180
	}
	if cfg.Intervals.ReplyPollSeconds == 0 {
		cfg.Intervals.ReplyPollSeconds = 300
	}
	if cfg.Intervals.SpamRecoverySeconds == 0 {
		cfg.Intervals.SpamRecoverySeconds = 6 * 3600
	}
	if cfg.Intervals.ScoreSeconds == 0 {
		cfg.Intervals.ScoreSeconds = 6 * 3600
	}
	if cfg.Intervals.DayAdvanceSeconds == 0 {
		cfg.Intervals.DayAdvanceSeconds = 3600
	}
	if cfg.Plan.GraceWindowSeconds == 0 {
		cfg.Plan.GraceWindowSeconds = 300
	}
	if cfg.Plan.FireWindowSeconds == 0 {
		cfg.Plan.FireWindowSeconds = 120
	}
	if cfg.Plan.RetentionDays == 0 {
		cfg.Plan.RetentionDays = 7
	}
	if cfg.Plan.MaxAttemptsPerDay == 0 {
		cfg.Plan.MaxAttemptsPerDay = 5
	}
	if cfg.Engagement.OpenDelayMinSeconds == 0 {
		cfg.Engagement.OpenDelayMinSeconds = 30
	}
	if cfg.Engagement.OpenDelayMaxSeconds == 0 {
		cfg.Engagement.OpenDelayMaxSeconds = 600
	}
	if cfg.Engagement.ReplyDelayMinSeconds == 0 {
		cfg.Engagement.ReplyDelayMinSeconds = 300
	}
	if cfg.Engagement.ReplyDelayMaxSeconds == 0 {
		cfg.Engagement.ReplyDelayMaxSeconds = 1800
	}
	if cfg.Engagement.StarProbability == 0 {
		cfg.Engagement.StarProbability = 0.20
	}
	if cfg.Score.WindowDays == 0 {
		cfg.Score.WindowDays = 30
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	return cfg, nil
}
