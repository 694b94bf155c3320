package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers accepted by HALLBOOKING_STORAGE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures the settings of the booking server.
type Config struct {
	HTTPPort        int
	Storage         StorageConfig
	TokenSecret     string
	TokenTTL        time.Duration
	RefreshInterval time.Duration
	RedisAddr       string
	RedisChannel    string
	LogLevel        slog.Level
}

// StorageConfig selects and tunes the persistence gateway.
type StorageConfig struct {
	Driver  string
	DSN     string
	Timeout time.Duration
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile names a YAML file. Empty falls back to HALLBOOKING_CONFIG_FILE.
	ConfigFile string
	// EnvFile names a dotenv file. Empty means ".env"; a missing file is ignored.
	EnvFile string
	// Lookup reads the process environment. Defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
	// StorageOnly skips the keys only the HTTP server needs, for admin tooling.
	StorageOnly bool
}

// Defaults returns the configuration used before any source is applied.
func Defaults() Config {
	return Config{
		HTTPPort: 8080,
		Storage: StorageConfig{
			Driver:  DriverSQLite,
			DSN:     "hallbooking.db",
			Timeout: 5 * time.Second,
		},
		TokenTTL:        24 * time.Hour,
		RefreshInterval: 30 * time.Second,
		RedisChannel:    "hallbooking:changes",
		LogLevel:        slog.LevelInfo,
	}
}

// Load resolves configuration from defaults, the optional YAML file, a .env
// file in the working directory and the process environment, in increasing
// order of precedence.
func Load() (Config, error) {
	return LoadWithOptions(Options{})
}

// LoadWithOptions is Load with explicit sources. Missing required keys and
// invalid values are collected and reported together.
func LoadWithOptions(opts Options) (Config, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		dotenv = nil
	}

	// Process environment wins over the dotenv file.
	get := func(key string) string {
		if value, ok := lookup(key); ok {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(dotenv[key])
	}

	cfg := Defaults()
	invalid := make([]string, 0, 2)

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = get("HALLBOOKING_CONFIG_FILE")
	}
	if configFile != "" {
		file, err := readFile(configFile)
		if err != nil {
			return Config{}, err
		}
		invalid = append(invalid, file.apply(&cfg)...)
	}

	for _, setting := range envSettings(&cfg) {
		value := get(setting.key)
		if value == "" {
			continue
		}
		if !setting.set(value) {
			invalid = append(invalid, setting.key)
		}
	}

	missing := make([]string, 0, 1)
	if cfg.TokenSecret == "" && !opts.StorageOnly {
		missing = append(missing, "HALLBOOKING_TOKEN_SECRET")
	}
	// The default DSN names a SQLite file; postgres needs an explicit one.
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.DSN == Defaults().Storage.DSN {
		missing = append(missing, "HALLBOOKING_STORAGE_DSN")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration is missing: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

type envSetting struct {
	key string
	set func(value string) bool
}

func envSettings(cfg *Config) []envSetting {
	return []envSetting{
		{"HALLBOOKING_HTTP_PORT", func(v string) bool { return parsePort(v, &cfg.HTTPPort) }},
		{"HALLBOOKING_STORAGE_DRIVER", func(v string) bool { return parseDriver(v, &cfg.Storage.Driver) }},
		{"HALLBOOKING_STORAGE_DSN", func(v string) bool { cfg.Storage.DSN = v; return true }},
		{"HALLBOOKING_STORAGE_TIMEOUT", func(v string) bool { return parsePositiveDuration(v, &cfg.Storage.Timeout) }},
		{"HALLBOOKING_TOKEN_SECRET", func(v string) bool { cfg.TokenSecret = v; return true }},
		{"HALLBOOKING_TOKEN_TTL", func(v string) bool { return parsePositiveDuration(v, &cfg.TokenTTL) }},
		{"HALLBOOKING_REFRESH_INTERVAL", func(v string) bool { return parsePositiveDuration(v, &cfg.RefreshInterval) }},
		{"HALLBOOKING_REDIS_ADDR", func(v string) bool { cfg.RedisAddr = v; return true }},
		{"HALLBOOKING_REDIS_CHANNEL", func(v string) bool { cfg.RedisChannel = v; return true }},
		{"HALLBOOKING_LOG_LEVEL", func(v string) bool { return parseLevel(v, &cfg.LogLevel) }},
	}
}

// fileConfig mirrors the YAML layout. Durations are Go duration strings.
type fileConfig struct {
	HTTP struct {
		Port *int `yaml:"port"`
	} `yaml:"http"`
	Storage struct {
		Driver  string `yaml:"driver"`
		DSN     string `yaml:"dsn"`
		Timeout string `yaml:"timeout"`
	} `yaml:"storage"`
	Auth struct {
		TokenSecret string `yaml:"token_secret"`
		TokenTTL    string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Refresh struct {
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`
	Events struct {
		RedisAddr    string `yaml:"redis_addr"`
		RedisChannel string `yaml:"redis_channel"`
	} `yaml:"events"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fileConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return file, nil
}

// apply copies the values present in the file onto cfg and returns the keys
// whose values could not be parsed.
func (f fileConfig) apply(cfg *Config) []string {
	var invalid []string
	check := func(key, value string, set func(string) bool) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if !set(value) {
			invalid = append(invalid, key)
		}
	}

	if f.HTTP.Port != nil {
		if *f.HTTP.Port <= 0 {
			invalid = append(invalid, "http.port")
		} else {
			cfg.HTTPPort = *f.HTTP.Port
		}
	}
	check("storage.driver", f.Storage.Driver, func(v string) bool { return parseDriver(v, &cfg.Storage.Driver) })
	check("storage.dsn", f.Storage.DSN, func(v string) bool { cfg.Storage.DSN = v; return true })
	check("storage.timeout", f.Storage.Timeout, func(v string) bool { return parsePositiveDuration(v, &cfg.Storage.Timeout) })
	check("auth.token_secret", f.Auth.TokenSecret, func(v string) bool { cfg.TokenSecret = v; return true })
	check("auth.token_ttl", f.Auth.TokenTTL, func(v string) bool { return parsePositiveDuration(v, &cfg.TokenTTL) })
	check("refresh.interval", f.Refresh.Interval, func(v string) bool { return parsePositiveDuration(v, &cfg.RefreshInterval) })
	check("events.redis_addr", f.Events.RedisAddr, func(v string) bool { cfg.RedisAddr = v; return true })
	check("events.redis_channel", f.Events.RedisChannel, func(v string) bool { cfg.RedisChannel = v; return true })
	check("log.level", f.Log.Level, func(v string) bool { return parseLevel(v, &cfg.LogLevel) })
	return invalid
}

func parsePort(value string, dst *int) bool {
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 {
		return false
	}
	*dst = port
	return true
}

func parseDriver(value string, dst *string) bool {
	driver := strings.ToLower(value)
	switch driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
		*dst = driver
		return true
	}
	return false
}

func parsePositiveDuration(value string, dst *time.Duration) bool {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return false
	}
	*dst = d
	return true
}

func parseLevel(value string, dst *slog.Level) bool {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return false
	}
	*dst = level
	return true
}
