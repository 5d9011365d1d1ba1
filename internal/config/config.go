package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Auth/token configuration
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Transcoder configuration
	Transcoder TranscoderConfig `yaml:"transcoder" json:"transcoder"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host" env:"FERELIX_HOST" default:"0.0.0.0"`
	Port           int      `yaml:"port" json:"port" env:"FERELIX_PORT" default:"8000"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// DatabaseConfig holds persistence configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL          string `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"ferelix"`
	Password     string `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"ferelix"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"FERELIX_DATA_DIR" default:"./ferelix-data"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"FERELIX_DATABASE_PATH"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	SecretKey                string `yaml:"secret_key" json:"-" env:"SECRET_KEY"`
	AccessTokenExpireMinutes int    `yaml:"access_token_expire_minutes" json:"access_token_expire_minutes" env:"ACCESS_TOKEN_EXPIRE_MINUTES" default:"30"`
	RefreshTokenExpireDays   int    `yaml:"refresh_token_expire_days" json:"refresh_token_expire_days" env:"REFRESH_TOKEN_EXPIRE_DAYS" default:"7"`
}

// ScannerConfig holds scanner configuration
type ScannerConfig struct {
	BatchSize              int           `yaml:"batch_size" json:"batch_size" env:"FERELIX_SCAN_BATCH_SIZE" default:"10"`
	ProbeTimeout           time.Duration `yaml:"probe_timeout" json:"probe_timeout" env:"FERELIX_PROBE_TIMEOUT" default:"30s"`
	CleanupGracePeriodDays int           `yaml:"cleanup_grace_period_days" json:"cleanup_grace_period_days" env:"CLEANUP_GRACE_PERIOD_DAYS" default:"30"`
	WatchLibraries         bool          `yaml:"watch_libraries" json:"watch_libraries" env:"FERELIX_WATCH_LIBRARIES" default:"true"`
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	WorkDir           string        `yaml:"work_dir" json:"work_dir" env:"FERELIX_TRANSCODE_DIR" default:"/tmp/ferelix-transcode"`
	FFmpegPath        string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FERELIX_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath       string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"FERELIX_FFPROBE_PATH" default:"ffprobe"`
	SegmentDuration   int           `yaml:"segment_duration" json:"segment_duration" env:"FERELIX_SEGMENT_DURATION" default:"6"`
	SessionMaxAge     time.Duration `yaml:"session_max_age" json:"session_max_age" env:"FERELIX_SESSION_MAX_AGE" default:"24h"`
	HardwareAccel     bool          `yaml:"hardware_accel" json:"hardware_accel" env:"FERELIX_HARDWARE_ACCEL" default:"true"`
}

var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Load reads configuration from an optional YAML file and the environment.
// Environment variables always win over file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()
	return cfg, nil
}

// Get returns the loaded configuration, loading defaults if Load was never called.
func Get() *Config {
	configMutex.RLock()
	if globalConfig != nil {
		defer configMutex.RUnlock()
		return globalConfig
	}
	configMutex.RUnlock()

	cfg, _ := Load("")
	return cfg
}

// GetDatabasePath returns the sqlite database file location.
func GetDatabasePath() string {
	cfg := Get()
	if cfg.Database.DatabasePath != "" {
		return cfg.Database.DatabasePath
	}
	return filepath.Join(cfg.Database.DataDir, "ferelix.db")
}

// applyDefaults walks struct fields and applies `default` tags to zero values.
func applyDefaults(v interface{}) {
	walkFields(reflect.ValueOf(v).Elem(), func(field reflect.Value, tag reflect.StructTag) {
		def := tag.Get("default")
		if def == "" || !field.IsZero() {
			return
		}
		setField(field, def)
	})
}

// applyEnvOverrides walks struct fields and applies `env` variables when set.
func applyEnvOverrides(v interface{}) {
	walkFields(reflect.ValueOf(v).Elem(), func(field reflect.Value, tag reflect.StructTag) {
		key := tag.Get("env")
		if key == "" {
			return
		}
		val, ok := os.LookupEnv(key)
		if !ok || val == "" {
			return
		}
		setField(field, val)
	})
}

func walkFields(v reflect.Value, fn func(field reflect.Value, tag reflect.StructTag)) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			walkFields(field, fn)
			continue
		}
		fn(field, t.Field(i).Tag)
	}
}

func setField(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(raw); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
}
