package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port          string `yaml:"port"`
		ShutdownGrace string `yaml:"shutdown_grace"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Game  Game  `yaml:"game"`
	Quota Quota `yaml:"quota"`
}

// Game holds the tunables of the room session state machine.
type Game struct {
	BatchSize            int                `yaml:"batch_size"`
	QuestionsPerSet      int                `yaml:"questions_per_set"`
	RoomCapacity         int                `yaml:"room_capacity"`
	MinQuestionDuration  string             `yaml:"min_question_duration"`
	MaxQuestionDuration  string             `yaml:"max_question_duration"`
	BaseQuestionDuration string             `yaml:"base_question_duration"`
	CharsPerSecond       int                `yaml:"chars_per_second"`
	RevealGrace          string             `yaml:"reveal_grace"`
	ResultsDuration      string             `yaml:"results_duration"`
	RestartCooldown      string             `yaml:"restart_cooldown"`
	PoolTTL              string             `yaml:"pool_ttl"`
	Scoring              map[string]Scoring `yaml:"scoring"`
}

// Scoring is the points table of one difficulty tier. Wrong is negative by convention.
type Scoring struct {
	Correct int `yaml:"correct"`
	Wrong   int `yaml:"wrong"`
}

type Quota struct {
	DailyLimit int    `yaml:"daily_limit"`
	Expiry     string `yaml:"expiry"`
}

// Default returns a configuration that runs fully in memory.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownGrace = "5s"
	cfg.Log.Level = "info"
	cfg.Redis.TTL = "10m"
	cfg.NATS.SubjectPrefix = "trivia"
	cfg.Game = Game{
		BatchSize:            10,
		RoomCapacity:         50,
		MinQuestionDuration:  "10s",
		MaxQuestionDuration:  "30s",
		BaseQuestionDuration: "6s",
		CharsPerSecond:       15,
		RevealGrace:          "1500ms",
		ResultsDuration:      "5s",
		RestartCooldown:      "10s",
		PoolTTL:              "5m",
		Scoring: map[string]Scoring{
			"easy":   {Correct: 50, Wrong: -20},
			"medium": {Correct: 100, Wrong: -20},
			"hard":   {Correct: 150, Wrong: -20},
		},
	}
	cfg.Quota = Quota{DailyLimit: 50, Expiry: "48h"}
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("QUOTA_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.DailyLimit = n
		}
	}
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
