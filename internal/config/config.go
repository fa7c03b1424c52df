package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config is the full runtime configuration loaded from config.toml and
// TURF_* environment overrides.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
	Conquest  ConquestConfig  `toml:"conquest"`
	EventMode EventModeConfig `toml:"event_mode"`
	Server    ServerConfig    `toml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver" env:"TURF_DATABASE_DRIVER"` // sqlite | postgres
	Path   string `toml:"path" env:"TURF_DB_PATH"`
	DSN    string `toml:"dsn" env:"TURF_DATABASE_DSN"`
}

type LoggingConfig struct {
	Level   string        `toml:"level" env:"TURF_LOG_LEVEL"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled" env:"TURF_LOG_DEV_FILE"`
	Dir     string `toml:"dir" env:"TURF_LOG_DEV_DIR"`
}

// ConquestConfig holds path, polygon, and resolution thresholds. Distances
// are meters, areas square meters.
type ConquestConfig struct {
	ClosureTolerance   float64 `toml:"closure_tolerance" env:"TURF_CLOSURE_TOLERANCE"`
	DedupeEpsilon      float64 `toml:"dedupe_epsilon" env:"TURF_DEDUPE_EPSILON"`
	MinPoints          int     `toml:"min_points" env:"TURF_MIN_POINTS"`
	MinDistance        float64 `toml:"min_distance" env:"TURF_MIN_DISTANCE"`
	MinDurationSeconds int     `toml:"min_duration_seconds" env:"TURF_MIN_DURATION_SECONDS"`
	MinArea            float64 `toml:"min_area" env:"TURF_MIN_AREA"`
	SimplifyTolerance  float64 `toml:"simplify_tolerance" env:"TURF_SIMPLIFY_TOLERANCE"`
	DestroyThreshold   float64 `toml:"destroy_threshold" env:"TURF_DESTROY_THRESHOLD"`
	OverlapEpsilon     float64 `toml:"overlap_epsilon" env:"TURF_OVERLAP_EPSILON"`
	MaxConflictRetries int     `toml:"max_conflict_retries" env:"TURF_MAX_CONFLICT_RETRIES"`
	SelfOverlap        string  `toml:"self_overlap" env:"TURF_SELF_OVERLAP"` // ignore | merge
	Index              string  `toml:"index" env:"TURF_INDEX"`               // rtree | scan
}

// MinDuration returns the minimum recording duration.
func (c ConquestConfig) MinDuration() time.Duration {
	return time.Duration(c.MinDurationSeconds) * time.Second
}

type EventModeConfig struct {
	Provider string      `toml:"provider" env:"TURF_EVENT_MODE_PROVIDER"` // static | window | redis
	Enabled  bool        `toml:"enabled" env:"TURF_EVENT_MODE"`
	StartsAt time.Time   `toml:"starts_at" env:"TURF_EVENT_STARTS_AT"`
	EndsAt   time.Time   `toml:"ends_at" env:"TURF_EVENT_ENDS_AT"`
	Redis    RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr" env:"TURF_REDIS_ADDR"`
	Password string `toml:"password" env:"TURF_REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"TURF_REDIS_DB"`
	Key      string `toml:"key" env:"TURF_REDIS_KEY"`
}

type ServerConfig struct {
	Bind        string `toml:"bind" env:"TURF_SERVER_BIND"`
	APIEndpoint string `toml:"api_endpoint" env:"TURF_API_ENDPOINT"`
	MCPEndpoint string `toml:"mcp_endpoint" env:"TURF_MCP_ENDPOINT"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `toml:"otlp_endpoint" env:"TURF_OTLP_ENDPOINT"`
	ServiceName  string  `toml:"service_name" env:"TURF_SERVICE_NAME"`
	SampleRatio  float64 `toml:"sample_ratio" env:"TURF_TRACE_SAMPLE_RATIO"`
}

// Default returns the built-in configuration for a SQLite database at dbPath.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: false,
				Dir:     ".turf/log",
			},
		},
		Conquest: ConquestConfig{
			ClosureTolerance:   20,
			DedupeEpsilon:      1,
			MinPoints:          4,
			MinDistance:        0,
			MinDurationSeconds: 0,
			MinArea:            100,
			SimplifyTolerance:  0.5,
			DestroyThreshold:   0.95,
			OverlapEpsilon:     0.01,
			MaxConflictRetries: 3,
			SelfOverlap:        "ignore",
			Index:              "rtree",
		},
		EventMode: EventModeConfig{
			Provider: "static",
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
				Key:  "turf:event_mode",
			},
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "turf",
			SampleRatio: 1,
		},
	}
}

// Load decodes the TOML file at path over defaults, applies TURF_* overrides,
// and validates. A missing or empty file keeps the defaults.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields whose TURF_* variable is set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// LoadDotEnv loads each existing .env file into the process environment.
// Variables already set win over file values.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file: %w", err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch strings.TrimSpace(strings.ToLower(c.Database.Driver)) {
	case "", "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	q := c.Conquest
	switch {
	case q.ClosureTolerance <= 0:
		return errors.New("conquest.closure_tolerance must be > 0")
	case q.DedupeEpsilon < 0:
		return errors.New("conquest.dedupe_epsilon must be >= 0")
	case q.MinPoints < 4:
		return errors.New("conquest.min_points must be >= 4")
	case q.MinDistance < 0:
		return errors.New("conquest.min_distance must be >= 0")
	case q.MinDurationSeconds < 0:
		return errors.New("conquest.min_duration_seconds must be >= 0")
	case q.MinArea <= 0:
		return errors.New("conquest.min_area must be > 0")
	case q.SimplifyTolerance < 0:
		return errors.New("conquest.simplify_tolerance must be >= 0")
	case q.DestroyThreshold <= 0 || q.DestroyThreshold > 1:
		return errors.New("conquest.destroy_threshold must be in (0, 1]")
	case q.OverlapEpsilon < 0:
		return errors.New("conquest.overlap_epsilon must be >= 0")
	case q.MaxConflictRetries < 0:
		return errors.New("conquest.max_conflict_retries must be >= 0")
	}
	switch strings.TrimSpace(strings.ToLower(q.SelfOverlap)) {
	case "", "ignore", "merge":
	default:
		return fmt.Errorf("invalid conquest.self_overlap: %q", q.SelfOverlap)
	}
	switch strings.TrimSpace(strings.ToLower(q.Index)) {
	case "", "rtree", "scan":
	default:
		return fmt.Errorf("invalid conquest.index: %q", q.Index)
	}

	ev := c.EventMode
	switch strings.TrimSpace(strings.ToLower(ev.Provider)) {
	case "", "static":
	case "window":
		if ev.StartsAt.IsZero() && ev.EndsAt.IsZero() {
			return errors.New("event_mode window needs starts_at or ends_at")
		}
		if !ev.StartsAt.IsZero() && !ev.EndsAt.IsZero() && !ev.EndsAt.After(ev.StartsAt) {
			return errors.New("event_mode.ends_at must be after starts_at")
		}
	case "redis":
		if strings.TrimSpace(ev.Redis.Addr) == "" {
			return errors.New("event_mode.redis.addr is required")
		}
		if ev.Redis.DB < 0 {
			return errors.New("event_mode.redis.db must be >= 0")
		}
	default:
		return fmt.Errorf("invalid event_mode.provider: %q", ev.Provider)
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}
	for name, endpoint := range map[string]string{"server.api_endpoint": c.Server.APIEndpoint, "server.mcp_endpoint": c.Server.MCPEndpoint} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be in [0, 1]")
	}
	return nil
}

// EnsureConfigDir creates the parent directory of a config path.
func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
