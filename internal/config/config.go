// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides,
// and carries the engine's reference data: the action catalog, level tiers
// and badge definitions.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Streak      StreakConfig      `mapstructure:"streak"`
	Fraud       FraudConfig       `mapstructure:"fraud"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"`
	Actions     []ActionConfig    `mapstructure:"actions"`
	Levels      []LevelConfig     `mapstructure:"levels"`
	Badges      []BadgeConfig     `mapstructure:"badges"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// EngineConfig holds award coordinator tuning.
type EngineConfig struct {
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// StreakConfig holds streak tracking configuration.
type StreakConfig struct {
	GraceBuffer time.Duration `mapstructure:"grace_buffer"`
}

// FraudConfig holds fraud detection thresholds.
type FraudConfig struct {
	Lookback         time.Duration `mapstructure:"lookback"`
	MaxTransactions  int           `mapstructure:"max_transactions"`
	MinTransactions  int           `mapstructure:"min_transactions"`
	VelocityLimit    float64       `mapstructure:"velocity_limit"`
	ReviewThreshold  int           `mapstructure:"review_threshold"`
}

// ReconcilerConfig holds the offline reconciliation job configuration.
type ReconcilerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ActionConfig defines one entry of the action registry.
type ActionConfig struct {
	Type       string `mapstructure:"type"`
	Points     int64  `mapstructure:"points"`
	Repeatable bool   `mapstructure:"repeatable"`
}

// LevelConfig defines one level tier as a half-open points range.
// MaxPoints of 0 on the last tier means unbounded.
type LevelConfig struct {
	Tier      int      `mapstructure:"tier"`
	Name      string   `mapstructure:"name"`
	MinPoints int64    `mapstructure:"min_points"`
	MaxPoints int64    `mapstructure:"max_points"`
	Benefits  []string `mapstructure:"benefits"`
}

// BadgeConfig defines one badge and its unlock criteria.
type BadgeConfig struct {
	ID       string         `mapstructure:"id"`
	Category string         `mapstructure:"category"`
	Rarity   string         `mapstructure:"rarity"`
	Points   int64          `mapstructure:"points"`
	Criteria CriteriaConfig `mapstructure:"criteria"`
}

// CriteriaConfig is the tagged predicate for badge unlocks.
// Type is one of "count_threshold", "composite_and" or "external_signal";
// the remaining fields apply per type.
type CriteriaConfig struct {
	Type      string           `mapstructure:"type"`
	Counter   string           `mapstructure:"counter"`
	Threshold int64            `mapstructure:"threshold"`
	Flag      string           `mapstructure:"flag"`
	All       []CriteriaConfig `mapstructure:"all"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory; a missing file is fine
// since defaults plus environment variables form a complete configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, ENGINE_LOCK_TIMEOUT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the reference data invariants: level ranges must be
// contiguous starting at zero, actions must award positive points, and
// badge bonuses must not be negative. Violations are configuration errors
// and refuse startup rather than being silently repaired.
func (c *Config) Validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("no level tiers configured")
	}
	if c.Levels[0].MinPoints != 0 {
		return fmt.Errorf("level tiers must start at 0, got %d", c.Levels[0].MinPoints)
	}
	for i, lvl := range c.Levels {
		last := i == len(c.Levels)-1
		if last {
			if lvl.MaxPoints != 0 {
				return fmt.Errorf("last level tier %q must be unbounded", lvl.Name)
			}
			continue
		}
		if lvl.MaxPoints <= lvl.MinPoints {
			return fmt.Errorf("level tier %q has empty range [%d,%d)", lvl.Name, lvl.MinPoints, lvl.MaxPoints)
		}
		if c.Levels[i+1].MinPoints != lvl.MaxPoints {
			return fmt.Errorf("level tiers %q and %q are not contiguous", lvl.Name, c.Levels[i+1].Name)
		}
	}

	seen := make(map[string]bool, len(c.Actions))
	for _, a := range c.Actions {
		if a.Type == "" {
			return fmt.Errorf("action with empty type")
		}
		if a.Points <= 0 {
			return fmt.Errorf("action %q must award positive points, got %d", a.Type, a.Points)
		}
		if seen[a.Type] {
			return fmt.Errorf("duplicate action type %q", a.Type)
		}
		seen[a.Type] = true
	}

	for _, b := range c.Badges {
		if b.ID == "" {
			return fmt.Errorf("badge with empty id")
		}
		if b.Points < 0 {
			return fmt.Errorf("badge %q has negative bonus %d", b.ID, b.Points)
		}
		if err := validateCriteria(b.ID, b.Criteria); err != nil {
			return err
		}
	}

	return nil
}

func validateCriteria(badgeID string, cr CriteriaConfig) error {
	switch cr.Type {
	case "count_threshold":
		if cr.Counter == "" || cr.Threshold <= 0 {
			return fmt.Errorf("badge %q: count_threshold needs a counter and positive threshold", badgeID)
		}
	case "composite_and":
		if len(cr.All) == 0 {
			return fmt.Errorf("badge %q: composite_and needs sub-criteria", badgeID)
		}
		for _, sub := range cr.All {
			if err := validateCriteria(badgeID, sub); err != nil {
				return err
			}
		}
	case "external_signal":
		if cr.Flag == "" {
			return fmt.Errorf("badge %q: external_signal needs a flag name", badgeID)
		}
	default:
		return fmt.Errorf("badge %q: unknown criteria type %q", badgeID, cr.Type)
	}
	return nil
}

// setDefaults sets default configuration values, including the default
// action catalog, level tiers and badge set.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamification")
	v.SetDefault("database.name", "gamification")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Engine defaults
	v.SetDefault("engine.lock_timeout", "5s")
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.history_limit", 50)

	// Streak defaults: 24h plus a 2h grace buffer
	v.SetDefault("streak.grace_buffer", "2h")

	// Fraud defaults
	v.SetDefault("fraud.lookback", "5m")
	v.SetDefault("fraud.max_transactions", 50)
	v.SetDefault("fraud.min_transactions", 3)
	v.SetDefault("fraud.velocity_limit", 100.0)
	v.SetDefault("fraud.review_threshold", 3)

	// Reconciler defaults
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "1h")

	// Action catalog defaults
	v.SetDefault("actions", []map[string]any{
		{"type": "registration", "points": 100, "repeatable": false},
		{"type": "profile_completed", "points": 50, "repeatable": false},
		{"type": "document_uploaded", "points": 75, "repeatable": true},
		{"type": "questionnaire_completed", "points": 150, "repeatable": true},
		{"type": "interview_attended", "points": 200, "repeatable": true},
		{"type": "daily_checkin", "points": 10, "repeatable": true},
	})

	// Level tier defaults: contiguous half-open ranges covering [0, inf)
	v.SetDefault("levels", []map[string]any{
		{"tier": 1, "name": "Newcomer", "min_points": 0, "max_points": 100},
		{"tier": 2, "name": "Explorer", "min_points": 100, "max_points": 250, "benefits": []string{"profile_flair"}},
		{"tier": 3, "name": "Contributor", "min_points": 250, "max_points": 500, "benefits": []string{"profile_flair", "priority_support"}},
		{"tier": 4, "name": "Achiever", "min_points": 500, "max_points": 1000, "benefits": []string{"profile_flair", "priority_support"}},
		{"tier": 5, "name": "Expert", "min_points": 1000, "max_points": 2500, "benefits": []string{"profile_flair", "priority_support", "beta_access"}},
		{"tier": 6, "name": "Master", "min_points": 2500, "max_points": 0, "benefits": []string{"profile_flair", "priority_support", "beta_access"}},
	})

	// Badge defaults
	v.SetDefault("badges", []map[string]any{
		{
			"id": "getting_started", "category": "onboarding", "rarity": "common", "points": 25,
			"criteria": map[string]any{"type": "count_threshold", "counter": "transactions", "threshold": 1},
		},
		{
			"id": "document_diligent", "category": "onboarding", "rarity": "uncommon", "points": 50,
			"criteria": map[string]any{"type": "count_threshold", "counter": "action:document_uploaded", "threshold": 5},
		},
		{
			"id": "week_streak", "category": "engagement", "rarity": "uncommon", "points": 100,
			"criteria": map[string]any{"type": "count_threshold", "counter": "streak_days", "threshold": 7},
		},
		{
			"id": "point_collector", "category": "progression", "rarity": "rare", "points": 150,
			"criteria": map[string]any{"type": "count_threshold", "counter": "total_points", "threshold": 1000},
		},
		{
			"id": "fully_onboarded", "category": "onboarding", "rarity": "rare", "points": 200,
			"criteria": map[string]any{
				"type": "composite_and",
				"all": []map[string]any{
					{"type": "count_threshold", "counter": "action:profile_completed", "threshold": 1},
					{"type": "count_threshold", "counter": "action:document_uploaded", "threshold": 1},
					{"type": "count_threshold", "counter": "action:questionnaire_completed", "threshold": 1},
				},
			},
		},
		{
			"id": "risk_assessed", "category": "clinical", "rarity": "common", "points": 50,
			"criteria": map[string]any{"type": "external_signal", "flag": "risk_score_computed"},
		},
	})
}
