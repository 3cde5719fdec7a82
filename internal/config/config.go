package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingSetting is returned when a required setting is absent.
var ErrMissingSetting = errors.New("missing required setting")

// Config keeps runtime settings for the bot.
type Config struct {
	BotToken           string        `yaml:"bot_token"`
	DatabaseURL        string        `yaml:"database_url"`
	DatabaseName       string        `yaml:"database_name"`
	RunPolling         bool          `yaml:"run_polling"`
	Port               int           `yaml:"port"`
	RedisURL           string        `yaml:"redis_url"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	AdminIDs           []int64       `yaml:"admin_ids"`
	ListLimit          int           `yaml:"list_limit"`
	LogLevel           string        `yaml:"log_level"`
	DBConnectAttempts  int           `yaml:"db_connect_attempts"`
}

func defaults() Config {
	return Config{
		RunPolling:         true,
		Port:               8080,
		SessionIdleTimeout: 20 * time.Minute,
		ListLimit:          100,
		LogLevel:           "info",
		DBConnectAttempts:  5,
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and checks required settings. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() error {
	if v := firstEnv("BOT_TOKEN", "TELEGRAM_TOKEN"); v != "" {
		c.BotToken = v
	}
	if v := firstEnv("DATABASE_URL", "MONGO_URI"); v != "" {
		c.DatabaseURL = v
	}
	if v := firstEnv("DATABASE_NAME", "MONGO_DBNAME"); v != "" {
		c.DatabaseName = v
	}
	if v := env("RUN_POLLING"); v != "" {
		c.RunPolling = v == "1"
	}
	if v := env("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v := env("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: invalid PORT %q", v)
		}
		c.Port = port
	}
	if v := env("SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("config: invalid SESSION_IDLE_TIMEOUT %q", v)
		}
		c.SessionIdleTimeout = d
	}
	if v := env("LIST_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: invalid LIST_LIMIT %q", v)
		}
		c.ListLimit = n
	}
	if v := env("DB_CONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: invalid DB_CONNECT_ATTEMPTS %q", v)
		}
		c.DBConnectAttempts = n
	}
	if v := env("ADMIN_IDS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return err
		}
		c.AdminIDs = ids
	}
	return nil
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("%w: BOT_TOKEN", ErrMissingSetting)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL", ErrMissingSetting)
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ADMIN_IDS entry %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := env(key); v != "" {
			return v
		}
	}
	return ""
}
