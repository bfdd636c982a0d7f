// Package config loads strata configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// FileName is the config file inside a base or repo directory.
	FileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "STRATA_"

	// RepoDirName is the per-repository config directory.
	RepoDirName = ".strata"

	maxConfigFileSize = 1024 * 1024
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Inference InferenceConfig `koanf:"inference"`
	Capsule   CapsuleConfig   `koanf:"capsule"`
	Prompts   PromptsConfig   `koanf:"prompts"`
	Log       LogConfig       `koanf:"log"`
	DB        DBConfig        `koanf:"db"`
	MCP       MCPConfig       `koanf:"mcp"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Bind            string        `koanf:"bind"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// InferenceConfig holds settings for the local inference server.
type InferenceConfig struct {
	BaseURL        string          `koanf:"base_url"`
	Model          string          `koanf:"model"`
	RequestTimeout time.Duration   `koanf:"request_timeout"`
	MaxAttempts    int             `koanf:"max_attempts"`
	RetryDelays    []time.Duration `koanf:"retry_delays"`
	ConnectTimeout time.Duration   `koanf:"connect_timeout"`
	IdleTimeout    time.Duration   `koanf:"idle_timeout"`
	HealthTimeout  time.Duration   `koanf:"health_timeout"`
}

// CapsuleConfig holds capsule compilation settings.
type CapsuleConfig struct {
	// WarnTokens is the estimate above which a compiled capsule is logged
	// and counted as over budget. Capsules are never truncated.
	WarnTokens int `koanf:"warn_tokens"`
}

// PromptsConfig holds prompt override settings.
type PromptsConfig struct {
	// Dir holds prompt files that replace the bundled ones by file name.
	// Empty means bundled prompts only.
	Dir string `koanf:"dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DBConfig holds turn journal pool settings.
type DBConfig struct {
	// MaxOpenConns limits open connections. 1 serializes all journal access.
	// 0 keeps the sql.DB default.
	MaxOpenConns int `koanf:"max_open_conns"`
	MaxIdleConns int `koanf:"max_idle_conns"`
}

// MCPConfig holds MCP boundary settings.
type MCPConfig struct {
	// DisabledTools lists tool names excluded from registration.
	// Lists from global and repo files are merged.
	DisabledTools []string `koanf:"disabled_tools"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultBaseDir returns STRATA_BASE_DIR, or ~/.strata.
func DefaultBaseDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "BASE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, RepoDirName), nil
}

// Load loads baseDir/config.yaml, then environment overrides.
// A missing file yields defaults. Tests pass t.TempDir() as baseDir.
func Load(baseDir string) (*Config, error) {
	return load(filepath.Join(baseDir, FileName))
}

// LoadWithRepo loads the global config, then the nearest repo config found
// by walking upward from startDir, then environment overrides. Later layers
// win for scalars; disabled_tools lists are merged.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	paths := []string{filepath.Join(globalDir, FileName)}
	if repo := FindRepoConfig(startDir); repo != "" {
		paths = append(paths, repo)
	}
	return load(paths...)
}

// FindRepoConfig walks upward from startDir to find the nearest
// .strata/config.yaml. Returns "" if none exists.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, RepoDirName, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func load(paths ...string) (*Config, error) {
	k := koanf.New(".")

	var disabled []string
	for _, p := range paths {
		layer, err := loadFile(p)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		disabled = mergeStringSlice(disabled, layer.Strings("mcp.disabled_tools"))
		if err := k.Merge(layer); err != nil {
			return nil, fmt.Errorf("failed to merge config %s: %w", p, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.MCP.DisabledTools = mergeStringSlice(disabled, cfg.MCP.DisabledTools)

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps STRATA_INFERENCE_BASE_URL to inference.base_url. Only the
// first underscore after the prefix separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// loadFile parses one YAML file. A missing file returns (nil, nil).
func loadFile(path string) (*koanf.Koanf, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return k, nil
}

// validateFileProperties rejects world-writable and oversized files.
func validateFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" && info.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("insecure permissions %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Inference.BaseURL == "" {
		cfg.Inference.BaseURL = "http://localhost:11434"
	}
	if cfg.Inference.Model == "" {
		cfg.Inference.Model = "llama3.1"
	}
	if cfg.Inference.RequestTimeout == 0 {
		cfg.Inference.RequestTimeout = 120 * time.Second
	}
	if cfg.Inference.MaxAttempts == 0 {
		cfg.Inference.MaxAttempts = 3
	}
	if len(cfg.Inference.RetryDelays) == 0 {
		cfg.Inference.RetryDelays = []time.Duration{0, time.Second, 3 * time.Second}
	}
	if cfg.Inference.ConnectTimeout == 0 {
		cfg.Inference.ConnectTimeout = 120 * time.Second
	}
	if cfg.Inference.IdleTimeout == 0 {
		cfg.Inference.IdleTimeout = 30 * time.Second
	}
	if cfg.Inference.HealthTimeout == 0 {
		cfg.Inference.HealthTimeout = 3 * time.Second
	}

	if cfg.Capsule.WarnTokens == 0 {
		cfg.Capsule.WarnTokens = 6000
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks value ranges after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}

	u, err := url.Parse(c.Inference.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("inference.base_url %q must be an http(s) URL", c.Inference.BaseURL)
	}
	if c.Inference.MaxAttempts < 1 {
		return fmt.Errorf("inference.max_attempts must be at least 1")
	}
	for _, d := range c.Inference.RetryDelays {
		if d < 0 {
			return fmt.Errorf("inference.retry_delays must not be negative")
		}
	}
	if c.Inference.RequestTimeout < 0 || c.Inference.ConnectTimeout < 0 ||
		c.Inference.IdleTimeout < 0 || c.Inference.HealthTimeout < 0 {
		return fmt.Errorf("inference timeouts must not be negative")
	}

	if c.Capsule.WarnTokens < 0 {
		return fmt.Errorf("capsule.warn_tokens must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}

	if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 {
		return fmt.Errorf("db pool limits must not be negative")
	}
	return nil
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
