package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file; STOREFRONT_CONFIG overrides it.
var ConfigPath = "config.yaml"

// Storage drivers for durable client storage.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	APIBaseURL                 string   `yaml:"apiBaseURL"`
	AuthTimeout                string   `yaml:"authTimeout"`
	BookTimeout                string   `yaml:"bookTimeout"`
	StorageDriver              string   `yaml:"storageDriver"`
	DataDir                    string   `yaml:"dataDir"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	StorageTTL                 string   `yaml:"storageTTL"`
	DatabaseURL                string   `yaml:"databaseURL"`
	VisitorCookieName          string   `yaml:"visitorCookieName"`
	VisitorCookieSecure        bool     `yaml:"visitorCookieSecure"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	RestoreWait                string   `yaml:"restoreWait"`
	SessionIdleTimeout         string   `yaml:"sessionIdleTimeout"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
	RabbitURL                  string   `yaml:"rabbitURL"`
	RabbitExchange             string   `yaml:"rabbitExchange"`
}

// Durations holds the parsed duration fields.
type Durations struct {
	Auth        time.Duration
	Book        time.Duration
	StorageTTL  time.Duration
	RestoreWait time.Duration
	SessionIdle time.Duration
}

// Path returns the config path, honouring STOREFRONT_CONFIG.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to Path()). A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win over it.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = Path()
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := map[string]*string{
		"STOREFRONT_PORT":            &cfg.Port,
		"LOG_LEVEL":                  &cfg.LogLevel,
		"STOREFRONT_API_BASE_URL":    &cfg.APIBaseURL,
		"STOREFRONT_STORAGE_DRIVER":  &cfg.StorageDriver,
		"STOREFRONT_DATA_DIR":        &cfg.DataDir,
		"REDIS_ADDR":                 &cfg.RedisAddr,
		"REDIS_PASSWORD":             &cfg.RedisPassword,
		"DATABASE_URL":               &cfg.DatabaseURL,
		"MINIO_ENDPOINT":             &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":           &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":           &cfg.MinioSecretKey,
		"MINIO_BUCKET":               &cfg.MinioBucket,
		"RABBITMQ_URL":               &cfg.RabbitURL,
		"STOREFRONT_RABBIT_EXCHANGE": &cfg.RabbitExchange,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("STOREFRONT_VISITOR_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.VisitorCookieSecure = b
		}
	}
	if v := os.Getenv("STOREFRONT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("STOREFRONT_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("STOREFRONT_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = DriverMemory
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.VisitorCookieName == "" {
		cfg.VisitorCookieName = "bookstore_visitor"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
}

func validateConfig(cfg FileConfig) error {
	if cfg.APIBaseURL == "" {
		return errors.New("config: apiBaseURL is required (set in config.yaml or STOREFRONT_API_BASE_URL)")
	}
	switch cfg.StorageDriver {
	case DriverMemory:
	case DriverFile:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required for the file storage driver")
		}
	case DriverRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis storage driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("config: unknown storageDriver %q (memory, file, redis or postgres)", cfg.StorageDriver)
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.LoginRateLimitPerMinute > 0 || cfg.RegisterRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if _, err := ParseDurations(cfg); err != nil {
		return err
	}
	return nil
}

type durationField struct {
	name string
	raw  string
	def  time.Duration
	dst  *time.Duration
}

// ParseDurations parses the duration fields, filling defaults for empty ones.
func ParseDurations(cfg FileConfig) (Durations, error) {
	var d Durations
	fields := []durationField{
		{"authTimeout", cfg.AuthTimeout, 5 * time.Second, &d.Auth},
		{"bookTimeout", cfg.BookTimeout, 10 * time.Second, &d.Book},
		{"storageTTL", cfg.StorageTTL, 30 * 24 * time.Hour, &d.StorageTTL},
		{"restoreWait", cfg.RestoreWait, 5 * time.Second, &d.RestoreWait},
		{"sessionIdleTimeout", cfg.SessionIdleTimeout, 30 * time.Minute, &d.SessionIdle},
	}
	for _, f := range fields {
		dur, err := parseDuration(f.name, f.raw, f.def)
		if err != nil {
			return Durations{}, err
		}
		*f.dst = dur
	}
	return d, nil
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
