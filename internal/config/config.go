package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the docvault service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Objects  ObjectsConfig  `yaml:"objects"`
	Identity IdentityConfig `yaml:"identity"`
	Index    IndexConfig    `yaml:"index"`
	Content  ContentConfig  `yaml:"content"`
	Auth     AuthConfig     `yaml:"auth"`
	Batch    BatchConfig    `yaml:"batch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds principal authentication and rate limit settings.
type AuthConfig struct {
	JWTSecret      string  `yaml:"jwt_secret"` // empty: trust X-Principal (local only)
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds key layout settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// ObjectsConfig holds document content storage settings.
type ObjectsConfig struct {
	Driver        string `yaml:"driver"` // memory, minio (default: minio)
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	Bucket        string `yaml:"bucket"`
	PresignTTLSec int    `yaml:"presign_ttl_sec"`
}

// PresignTTL returns the download link lifetime.
func (c ObjectsConfig) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLSec) * time.Second
}

// IdentityConfig holds identity service settings.
type IdentityConfig struct {
	Driver    string       `yaml:"driver"` // static, http (default: http)
	BaseURL   string       `yaml:"base_url"`
	Token     string       `yaml:"token"`
	TimeoutMS int          `yaml:"timeout_ms"`
	Static    StaticConfig `yaml:"static"`
}

// Timeout returns the budget of one permission evaluation's identity lookups.
func (c IdentityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// StaticConfig is a fixed identity directory.
type StaticConfig struct {
	Roles    map[string][]string          `yaml:"roles"`    // principal -> roles
	Policies map[string]map[string]string `yaml:"policies"` // rfp -> role -> level
}

// IndexConfig holds search index and propagation settings.
type IndexConfig struct {
	Workers              int `yaml:"workers"`
	QueueSize            int `yaml:"queue_size"`
	MaxAttempts          int `yaml:"max_attempts"`
	RetryBaseMS          int `yaml:"retry_base_ms"`
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec"`
	DefaultPageSize      int `yaml:"default_page_size"`
	MaxPageSize          int `yaml:"max_page_size"`
	SnippetLength        int `yaml:"snippet_length"`
}

// ContentConfig holds upload rules.
type ContentConfig struct {
	HashAlgorithm    string   `yaml:"hash_algorithm"` // sha256, blake3 (default: sha256)
	MaxSizeMB        int      `yaml:"max_size_mb"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`
}

// MaxSize returns the upload size limit in bytes.
func (c ContentConfig) MaxSize() int64 {
	return int64(c.MaxSizeMB) << 20
}

// BatchConfig holds bulk upload settings.
type BatchConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration document.
// ${VAR} and ${VAR:-default} are substituted from the environment first.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "docvault:"
	}
	if c.Objects.Driver == "" {
		c.Objects.Driver = "minio"
	}
	if c.Objects.Bucket == "" {
		c.Objects.Bucket = "rfp-documents"
	}
	if c.Objects.PresignTTLSec <= 0 {
		c.Objects.PresignTTLSec = 3600
	}
	if c.Identity.Driver == "" {
		c.Identity.Driver = "http"
	}
	if c.Identity.TimeoutMS <= 0 {
		c.Identity.TimeoutMS = 2000
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = 4
	}
	if c.Index.QueueSize <= 0 {
		c.Index.QueueSize = 1024
	}
	if c.Index.MaxAttempts <= 0 {
		c.Index.MaxAttempts = 5
	}
	if c.Index.RetryBaseMS <= 0 {
		c.Index.RetryBaseMS = 100
	}
	if c.Index.ReconcileIntervalSec <= 0 {
		c.Index.ReconcileIntervalSec = 60
	}
	if c.Index.DefaultPageSize <= 0 {
		c.Index.DefaultPageSize = 20
	}
	if c.Index.MaxPageSize <= 0 {
		c.Index.MaxPageSize = 100
	}
	if c.Index.SnippetLength <= 0 {
		c.Index.SnippetLength = 160
	}
	if c.Content.HashAlgorithm == "" {
		c.Content.HashAlgorithm = "sha256"
	}
	if c.Content.MaxSizeMB <= 0 {
		c.Content.MaxSizeMB = 50
	}
	if c.Auth.RateLimitRPS <= 0 {
		c.Auth.RateLimitRPS = 20
	}
	if c.Auth.RateLimitBurst <= 0 {
		c.Auth.RateLimitBurst = 40
	}
	if c.Batch.MaxBatchSize <= 0 {
		c.Batch.MaxBatchSize = 100
	}
}

var levels = map[string]bool{"none": true, "view": true, "download": true, "edit": true, "manage": true}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required")
		}
	default:
		return fmt.Errorf("database.driver must be \"memory\" or \"redis\", got %q", c.Database.Driver)
	}
	switch c.Objects.Driver {
	case "memory":
	case "minio":
		if c.Objects.Endpoint == "" {
			return fmt.Errorf("objects.endpoint is required")
		}
	default:
		return fmt.Errorf("objects.driver must be \"memory\" or \"minio\", got %q", c.Objects.Driver)
	}
	switch c.Identity.Driver {
	case "static":
		for rfp, policy := range c.Identity.Static.Policies {
			for role, level := range policy {
				if !levels[level] {
					return fmt.Errorf("identity.static.policies.%s.%s: unknown level %q", rfp, role, level)
				}
			}
		}
	case "http":
		if c.Identity.BaseURL == "" {
			return fmt.Errorf("identity.base_url is required")
		}
	default:
		return fmt.Errorf("identity.driver must be \"static\" or \"http\", got %q", c.Identity.Driver)
	}
	switch c.Content.HashAlgorithm {
	case "sha256", "blake3":
	default:
		return fmt.Errorf("content.hash_algorithm must be \"sha256\" or \"blake3\", got %q", c.Content.HashAlgorithm)
	}
	if c.Index.DefaultPageSize > c.Index.MaxPageSize {
		return fmt.Errorf("index.default_page_size %d exceeds index.max_page_size %d",
			c.Index.DefaultPageSize, c.Index.MaxPageSize)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
