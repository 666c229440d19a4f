package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Game struct {
		SessionTTL         string `yaml:"sessionTtl"`         // default 15m
		AnswerBudget       string `yaml:"answerBudget"`       // default 10s
		Cooldown           string `yaml:"cooldown"`           // default 60s
		DailyLimit         int    `yaml:"dailyLimit"`         // default 10
		DailyLimitGuest    int    `yaml:"dailyLimitGuest"`    // default 5
		WinThreshold       int    `yaml:"winThreshold"`       // default 6
		PerfectBonus       int    `yaml:"perfectBonus"`       // default 10
		EligibilityWindow  string `yaml:"eligibilityWindow"`  // default 30m
		EligibilityGuest   string `yaml:"eligibilityGuest"`   // default 25m
		ReuseRatio         float64 `yaml:"reuseRatio"`        // default 0.5
		PoolSplitThreshold int    `yaml:"poolSplitThreshold"` // default 30
		PoolCacheTTL       string `yaml:"poolCacheTtl"`       // default 10m
	} `yaml:"game"`
	Jobs struct {
		SweepInterval    string `yaml:"sweepInterval"`    // default 1m
		SnapshotInterval string `yaml:"snapshotInterval"` // default 24h
		SnapshotBatch    int    `yaml:"snapshotBatch"`    // default 200
	} `yaml:"jobs"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty/invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns v unless it is zero.
func IntOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// FloatOr returns v unless it is zero.
func FloatOr(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
