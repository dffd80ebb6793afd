package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicenseConfig contains license evaluation policy configuration
type LicenseConfig struct {
	DirectoryURL     string        `yaml:"directory_url" envconfig:"DIRECTORY_URL"`
	DirectoryTimeout time.Duration `yaml:"directory_timeout" envconfig:"DIRECTORY_TIMEOUT" default:"8s"`
	GraceWindow      time.Duration `yaml:"grace_window" envconfig:"GRACE_WINDOW" default:"48h"`
	RevalidateEvery  time.Duration `yaml:"revalidate_every" envconfig:"REVALIDATE_EVERY" default:"1h"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AdminTokenSecret string          `yaml:"admin_token_secret" envconfig:"ADMIN_TOKEN_SECRET"`
	ArtifactSecret   string          `yaml:"artifact_secret" envconfig:"ARTIFACT_SECRET" default:"ssb-artifact-v1"`
	RateLimit        RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	CacheFile      string `yaml:"cache_file" envconfig:"CACHE_FILE" default:"license.json"`
	ArtifactFile   string `yaml:"artifact_file" envconfig:"ARTIFACT_FILE" default:"license.ssb"`
	TamperFile     string `yaml:"tamper_file" envconfig:"TAMPER_FILE" default:"config.json"`
	LogsDir        string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Default returns a configuration populated with defaults only, ignoring any
// config file on disk. Environment variables still apply.
func Default() *Config {
	cfg, err := LoadFrom("")
	if err != nil {
		// Defaults always validate; reaching here means the environment
		// holds malformed SSB_ overrides.
		panic(fmt.Sprintf("default config failed to load: %v", err))
	}
	return cfg
}

// Load loads configuration from environment variables and an optional YAML file.
// Environment variables (prefix SSB_) take precedence over file values.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom loads configuration using an explicit config file path.
//
// Precedence is env > file > defaults. envconfig fills `default:` tags for
// every variable that is unset, so the file cannot simply be unmarshaled
// into the same struct: the defaults would clobber it. Instead env (plus
// defaults) and the file load into separate structs and merge explicitly,
// with os.LookupEnv deciding whether the environment actually set a field.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SSB", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if FileExists(configFile) {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			fileCfg, raw, err := parseConfigFile(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			mergeFileConfig(&cfg, fileCfg, raw)
		}
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// parseConfigFile unmarshals the YAML twice: into the typed struct for the
// values and into a generic map so the merge can tell "key absent" from
// "key set to a zero value" (false, 0, "").
func parseConfigFile(data []byte) (*Config, map[interface{}]interface{}, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, err
	}
	var raw map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	return &cfg, raw, nil
}

// mergeFileConfig copies every file-set value into cfg unless the
// environment set the corresponding variable.
func mergeFileConfig(cfg *Config, file *Config, raw map[interface{}]interface{}) {
	m := merger{raw: raw}

	m.duration(&cfg.Server.ReadTimeout, file.Server.ReadTimeout, "SSB_SERVER_READ_TIMEOUT", "server", "read_timeout")
	m.duration(&cfg.Server.WriteTimeout, file.Server.WriteTimeout, "SSB_SERVER_WRITE_TIMEOUT", "server", "write_timeout")
	m.duration(&cfg.Server.IdleTimeout, file.Server.IdleTimeout, "SSB_SERVER_IDLE_TIMEOUT", "server", "idle_timeout")
	m.duration(&cfg.Server.ShutdownTimeout, file.Server.ShutdownTimeout, "SSB_SERVER_SHUTDOWN_TIMEOUT", "server", "shutdown_timeout")
	m.intVal(&cfg.Server.Port, file.Server.Port, "SSB_SERVER_PORT", "server", "port")

	m.str(&cfg.License.DirectoryURL, file.License.DirectoryURL, "SSB_LICENSE_DIRECTORY_URL", "license", "directory_url")
	m.duration(&cfg.License.DirectoryTimeout, file.License.DirectoryTimeout, "SSB_LICENSE_DIRECTORY_TIMEOUT", "license", "directory_timeout")
	m.duration(&cfg.License.GraceWindow, file.License.GraceWindow, "SSB_LICENSE_GRACE_WINDOW", "license", "grace_window")
	m.duration(&cfg.License.RevalidateEvery, file.License.RevalidateEvery, "SSB_LICENSE_REVALIDATE_EVERY", "license", "revalidate_every")

	m.str(&cfg.Security.AdminTokenSecret, file.Security.AdminTokenSecret, "SSB_SECURITY_ADMIN_TOKEN_SECRET", "security", "admin_token_secret")
	m.str(&cfg.Security.ArtifactSecret, file.Security.ArtifactSecret, "SSB_SECURITY_ARTIFACT_SECRET", "security", "artifact_secret")
	m.boolVal(&cfg.Security.RateLimit.Enabled, file.Security.RateLimit.Enabled, "SSB_SECURITY_RATE_LIMIT_ENABLED", "security", "rate_limit", "enabled")
	m.floatVal(&cfg.Security.RateLimit.RPS, file.Security.RateLimit.RPS, "SSB_SECURITY_RATE_LIMIT_RPS", "security", "rate_limit", "rps")
	m.intVal(&cfg.Security.RateLimit.Burst, file.Security.RateLimit.Burst, "SSB_SECURITY_RATE_LIMIT_BURST", "security", "rate_limit", "burst")

	m.str(&cfg.Logging.Level, file.Logging.Level, "SSB_LOGGING_LEVEL", "logging", "level")
	m.str(&cfg.Logging.Format, file.Logging.Format, "SSB_LOGGING_FORMAT", "logging", "format")
	m.str(&cfg.Logging.Output, file.Logging.Output, "SSB_LOGGING_OUTPUT", "logging", "output")
	m.str(&cfg.Logging.FilePath, file.Logging.FilePath, "SSB_LOGGING_FILE_PATH", "logging", "file_path")

	m.str(&cfg.Paths.DataDir, file.Paths.DataDir, "SSB_PATHS_DATA_DIR", "paths", "data_dir")
	m.str(&cfg.Paths.CacheFile, file.Paths.CacheFile, "SSB_PATHS_CACHE_FILE", "paths", "cache_file")
	m.str(&cfg.Paths.ArtifactFile, file.Paths.ArtifactFile, "SSB_PATHS_ARTIFACT_FILE", "paths", "artifact_file")
	m.str(&cfg.Paths.TamperFile, file.Paths.TamperFile, "SSB_PATHS_TAMPER_FILE", "paths", "tamper_file")
	m.str(&cfg.Paths.LogsDir, file.Paths.LogsDir, "SSB_PATHS_LOGS_DIR", "paths", "logs_dir")
}

type merger struct {
	raw map[interface{}]interface{}
}

// fileSets reports whether the YAML document contains the key path, so an
// explicit zero value in the file still counts as set.
func (m merger) fileSets(path ...string) bool {
	node := m.raw
	for i, key := range path {
		v, ok := node[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		node, ok = v.(map[interface{}]interface{})
		if !ok {
			return false
		}
	}
	return false
}

func (m merger) takeFile(envKey string, path ...string) bool {
	if _, set := os.LookupEnv(envKey); set {
		return false
	}
	return m.fileSets(path...)
}

func (m merger) str(dst *string, v string, envKey string, path ...string) {
	if m.takeFile(envKey, path...) {
		*dst = v
	}
}

func (m merger) intVal(dst *int, v int, envKey string, path ...string) {
	if m.takeFile(envKey, path...) {
		*dst = v
	}
}

func (m merger) floatVal(dst *float64, v float64, envKey string, path ...string) {
	if m.takeFile(envKey, path...) {
		*dst = v
	}
}

func (m merger) boolVal(dst *bool, v bool, envKey string, path ...string) {
	if m.takeFile(envKey, path...) {
		*dst = v
	}
}

func (m merger) duration(dst *time.Duration, v time.Duration, envKey string, path ...string) {
	if m.takeFile(envKey, path...) {
		*dst = v
	}
}

// getConfigFilePath returns the config file path from env or the default location
func getConfigFilePath() string {
	if path := os.Getenv("SSB_CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.License.DirectoryTimeout <= 0 {
		return fmt.Errorf("directory timeout must be positive")
	}

	if c.License.GraceWindow < 0 {
		return fmt.Errorf("grace window must not be negative")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		c.Logging.Format = "json"
	}

	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "stdout"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}
