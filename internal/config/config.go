// Package config provides configuration management for the CodeBuddy API gateway.
// It handles loading and parsing YAML configuration files, layering CODEBUDDY_*
// environment overrides beneath them, and exposes structured access to server,
// upstream, credential and logging settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when no -config flag is supplied.
	DefaultConfigPath = "config.yaml"

	DefaultHost        = "127.0.0.1"
	DefaultPort        = 8001
	DefaultAPIEndpoint = "https://copilot.tencent.com"
	DefaultCredsDir    = ".codebuddy_creds"
	DefaultLogLevel    = "info"

	// DefaultExpiryGraceSeconds is how far ahead of expiry a credential stops being handed out.
	DefaultExpiryGraceSeconds = 60
)

// DefaultModels is the advertised model list when none is configured.
var DefaultModels = []string{
	"claude-4.0",
	"claude-3.7",
	"gpt-5",
	"gpt-5-mini",
	"gpt-5-nano",
	"o4-mini",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"auto-chat",
}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the HTTP server binds to.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// Password authenticates callers; it must be sent as a bearer token.
	Password string `yaml:"password" json:"-"`

	// Debug enables gin debug mode and verbose request logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LogLevel is parsed by logging.SetLogLevel.
	LogLevel string `yaml:"log-level" json:"log-level"`

	// LoggingToFile routes logs to rotating files under the logs directory.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// APIEndpoint is the CodeBuddy base URL.
	APIEndpoint string `yaml:"api-endpoint" json:"api-endpoint"`

	// CredsDir holds one JSON file per stored credential.
	CredsDir string `yaml:"creds-dir" json:"creds-dir"`

	// Models is the list served by GET /v1/models.
	Models []string `yaml:"models" json:"models"`

	// RotationCount is how many consecutive requests share a credential before rotating.
	RotationCount int `yaml:"rotation-count" json:"rotation-count"`

	// CredentialExpiryGraceSeconds treats credentials expiring within this window as unusable.
	CredentialExpiryGraceSeconds *int `yaml:"credential-expiry-grace-seconds,omitempty" json:"credential-expiry-grace-seconds,omitempty"`

	// SSLVerify enables upstream certificate verification.
	SSLVerify bool `yaml:"ssl-verify" json:"ssl-verify"`

	// ProxyURL is an optional http(s) or socks5 proxy for upstream requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// MetricsEnabled toggles Prometheus collection. nil means default (true).
	MetricsEnabled *bool `yaml:"metrics-enabled,omitempty" json:"metrics-enabled,omitempty"`

	// Retry configures the resilient streaming transport.
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Upstream configures the shared HTTP client.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// KeywordReplacements are applied to outgoing system message content in order.
	KeywordReplacements []KeywordReplacement `yaml:"keyword-replacements,omitempty" json:"keyword-replacements,omitempty"`
}

// envKeys maps CODEBUDDY_* variables onto config fields.
var envKeys = map[string]func(cfg *Config, value string) error{
	"CODEBUDDY_HOST":         func(cfg *Config, v string) error { cfg.Host = v; return nil },
	"CODEBUDDY_PORT":         func(cfg *Config, v string) error { return parseIntInto(&cfg.Port, v) },
	"CODEBUDDY_PASSWORD":     func(cfg *Config, v string) error { cfg.Password = v; return nil },
	"CODEBUDDY_API_ENDPOINT": func(cfg *Config, v string) error { cfg.APIEndpoint = v; return nil },
	"CODEBUDDY_CREDS_DIR":    func(cfg *Config, v string) error { cfg.CredsDir = v; return nil },
	"CODEBUDDY_LOG_LEVEL":    func(cfg *Config, v string) error { cfg.LogLevel = v; return nil },
	"CODEBUDDY_MODELS": func(cfg *Config, v string) error {
		cfg.Models = SplitModels(v)
		return nil
	},
	"CODEBUDDY_ROTATION_COUNT": func(cfg *Config, v string) error { return parseIntInto(&cfg.RotationCount, v) },
	"CODEBUDDY_SSL_VERIFY": func(cfg *Config, v string) error {
		cfg.SSLVerify = parseBool(v)
		return nil
	},
	"CODEBUDDY_PROXY_URL": func(cfg *Config, v string) error { cfg.ProxyURL = v; return nil },
}

// NewDefaultConfig returns a configuration populated with built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Host:          DefaultHost,
		Port:          DefaultPort,
		LogLevel:      DefaultLogLevel,
		APIEndpoint:   DefaultAPIEndpoint,
		CredsDir:      DefaultCredsDir,
		Models:        append([]string(nil), DefaultModels...),
		RotationCount: 1,
	}
}

// LoadConfig reads the YAML file at configFile. The file must exist.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional builds the effective configuration: defaults, then CODEBUDDY_*
// environment variables, then the YAML file. When optional is true a missing or
// unparsable file is tolerated and the remaining layers are returned.
//
// Parameters:
//   - configFile: Path to the YAML configuration file
//   - optional: Whether a missing or broken file is acceptable
//
// Returns:
//   - *Config: The effective configuration
//   - error: An error if the file is required and cannot be used
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg.normalize()
			return cfg, nil
		}
		if optional {
			log.Warnf("failed to read config file %s, using defaults: %v", configFile, err)
			cfg.normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		fileCfg := *cfg
		if errUnmarshal := yaml.Unmarshal(data, &fileCfg); errUnmarshal != nil {
			if optional {
				log.Warnf("failed to parse config file %s, using defaults: %v", configFile, errUnmarshal)
				cfg.normalize()
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to parse config file: %w", errUnmarshal)
		}
		cfg = &fileCfg
	}

	cfg.normalize()
	return cfg, nil
}

// ValidateConfig checks the configuration for fatal problems and returns
// human-readable warnings for suspicious but usable values.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}

	var warnings []string
	if strings.TrimSpace(cfg.Password) == "" {
		warnings = append(warnings, "password is empty: every /v1 request will be rejected")
	}
	if strings.TrimSpace(cfg.APIEndpoint) != "" {
		u, err := url.Parse(cfg.APIEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid api-endpoint %q", cfg.APIEndpoint)
		}
	} else {
		warnings = append(warnings, "api-endpoint is empty: upstream calls will fail")
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil || u.Scheme == "" {
			return nil, fmt.Errorf("invalid proxy-url %q", cfg.ProxyURL)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return nil, fmt.Errorf("unsupported proxy-url scheme %q", u.Scheme)
		}
	}
	if !cfg.SSLVerify {
		warnings = append(warnings, "ssl-verify is disabled for upstream requests")
	}
	return warnings, nil
}

// IsMetricsEnabled reports whether Prometheus metrics are collected, defaulting to true.
func (cfg *Config) IsMetricsEnabled() bool {
	if cfg == nil || cfg.MetricsEnabled == nil {
		return true
	}
	return *cfg.MetricsEnabled
}

// GetCredentialExpiryGraceSeconds returns the expiry grace window, defaulting to 60.
func (cfg *Config) GetCredentialExpiryGraceSeconds() int {
	if cfg == nil || cfg.CredentialExpiryGraceSeconds == nil {
		return DefaultExpiryGraceSeconds
	}
	if *cfg.CredentialExpiryGraceSeconds < 0 {
		return 0
	}
	return *cfg.CredentialExpiryGraceSeconds
}

// ChatCompletionsURL returns the upstream streaming chat endpoint.
func (cfg *Config) ChatCompletionsURL() string {
	return strings.TrimRight(cfg.APIEndpoint, "/") + "/v2/chat/completions"
}

// SplitModels parses a comma separated model list, dropping blanks.
func SplitModels(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (cfg *Config) normalize() {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.APIEndpoint = strings.TrimSpace(cfg.APIEndpoint)
	cfg.CredsDir = strings.TrimSpace(cfg.CredsDir)
	if cfg.CredsDir == "" {
		cfg.CredsDir = DefaultCredsDir
	}
	if cfg.RotationCount < 1 {
		cfg.RotationCount = 1
	}
	models := cfg.Models[:0]
	seen := make(map[string]struct{}, len(cfg.Models))
	for _, m := range cfg.Models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		models = append(models, m)
	}
	cfg.Models = models
	replacements := cfg.KeywordReplacements[:0]
	for _, r := range cfg.KeywordReplacements {
		if r.From == "" {
			continue
		}
		replacements = append(replacements, r)
	}
	cfg.KeywordReplacements = replacements
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for key, apply := range envKeys {
		value, ok := lookup(key)
		if !ok {
			continue
		}
		if err := apply(cfg, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func parseIntInto(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}
