package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		wantPort   int
		wantHost   string
		wantModels int
		wantErr    bool
	}{
		{
			name: "minimal valid config",
			yaml: `
port: 8080
`,
			wantPort:   8080,
			wantHost:   DefaultHost,
			wantModels: len(DefaultModels),
		},
		{
			name: "config with host and port",
			yaml: `
host: 0.0.0.0
port: 9000
`,
			wantPort:   9000,
			wantHost:   "0.0.0.0",
			wantModels: len(DefaultModels),
		},
		{
			name: "config with debug enabled",
			yaml: `
port: 8080
debug: true
`,
			wantPort:   8080,
			wantHost:   DefaultHost,
			wantModels: len(DefaultModels),
		},
		{
			name: "config with explicit models",
			yaml: `
port: 8080
models:
  - claude-4.0
  - " gpt-5 "
  - claude-4.0
  - ""
`,
			wantPort:   8080,
			wantHost:   DefaultHost,
			wantModels: 2,
		},
		{
			name: "config with upstream and retry settings",
			yaml: `
port: 443
upstream:
  timeout-seconds: 60
  connect-timeout-seconds: 5
retry:
  max-retries: 1
  base-delay-ms: 200
`,
			wantPort:   443,
			wantHost:   DefaultHost,
			wantModels: len(DefaultModels),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCodeBuddyEnv(t)
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadConfig(configPath)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}

			if cfg.Port != tt.wantPort {
				t.Errorf("LoadConfig() Port = %v, want %v", cfg.Port, tt.wantPort)
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("LoadConfig() Host = %v, want %v", cfg.Host, tt.wantHost)
			}
			if len(cfg.Models) != tt.wantModels {
				t.Errorf("LoadConfig() Models = %v, want %d entries", cfg.Models, tt.wantModels)
			}
		})
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		optional bool
		wantErr  bool
	}{
		{
			name:     "empty file with optional false",
			content:  "",
			optional: false,
			wantErr:  false, // Empty file parses to zero-value Config
		},
		{
			name:     "empty file with optional true",
			content:  "",
			optional: true,
			wantErr:  false,
		},
		{
			name:     "whitespace only with optional false",
			content:  "   \n \n   ",
			optional: false,
			wantErr:  false,
		},
		{
			name:     "whitespace only with optional true",
			content:  "   \n \n   ",
			optional: true,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadConfigOptional(configPath, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && cfg == nil {
				t.Error("LoadConfigOptional() returned nil config without error")
			}
		})
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		optional bool
		wantErr  bool
	}{
		{
			name: "invalid yaml syntax",
			content: `
port: 8080
  invalid indentation
`,
			optional: false,
			wantErr:  true,
		},
		{
			name: "invalid yaml with optional true",
			content: `
port: 8080
  invalid indentation
`,
			optional: true,
			wantErr:  false, // Optional mode returns empty config on parse error
		},
		{
			name: "malformed yaml structure",
			content: `
port: [8080
`,
			optional: false,
			wantErr:  true,
		},
		{
			name:     "duplicate keys at same level",
			content:  "port: 8080\nport: 9090\n  - invalid",
			optional: false,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadConfigOptional(configPath, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.optional && err == nil && cfg == nil {
				t.Error("LoadConfigOptional() with optional=true returned nil config")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	tests := []struct {
		name     string
		optional bool
		wantErr  bool
	}{
		{
			name:     "missing file with optional false",
			optional: false,
			wantErr:  true,
		},
		{
			name:     "missing file with optional true",
			optional: true,
			wantErr:  false, // Optional mode returns empty config for missing file
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "nonexistent.yaml")

			cfg, err := LoadConfigOptional(configPath, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.optional && cfg == nil {
				t.Error("LoadConfigOptional() with optional=true returned nil config for missing file")
			}
		})
	}
}

func TestValidateConfig_ValidPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{
			name:    "minimum valid port",
			port:    1,
			wantErr: false,
		},
		{
			name:    "maximum valid port",
			port:    65535,
			wantErr: false,
		},
		{
			name:    "common port 80",
			port:    80,
			wantErr: false,
		},
		{
			name:    "common port 443",
			port:    443,
			wantErr: false,
		},
		{
			name:    "common port 8080",
			port:    8080,
			wantErr: false,
		},
		{
			name:    "high ephemeral port",
			port:    49152,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: tt.port}
			_, err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_InvalidPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{
			name:    "zero port",
			port:    0,
			wantErr: true,
		},
		{
			name:    "negative port",
			port:    -1,
			wantErr: true,
		},
		{
			name:    "port exceeds maximum",
			port:    65536,
			wantErr: true,
		},
		{
			name:    "large negative port",
			port:    -65536,
			wantErr: true,
		},
		{
			name:    "very large port",
			port:    100000,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: tt.port}
			_, err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_NilConfig(t *testing.T) {
	if _, err := ValidateConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestValidateConfig_Endpoints(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		proxyURL string
		wantErr  bool
	}{
		{name: "default endpoint", endpoint: DefaultAPIEndpoint},
		{name: "endpoint without scheme", endpoint: "copilot.tencent.com", wantErr: true},
		{name: "socks proxy", endpoint: DefaultAPIEndpoint, proxyURL: "socks5://127.0.0.1:1080"},
		{name: "http proxy", endpoint: DefaultAPIEndpoint, proxyURL: "http://proxy.local:3128"},
		{name: "unsupported proxy scheme", endpoint: DefaultAPIEndpoint, proxyURL: "ftp://proxy.local", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: 8001, APIEndpoint: tt.endpoint, ProxyURL: tt.proxyURL}
			_, err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_WarnsOnMissingPassword(t *testing.T) {
	warnings, err := ValidateConfig(&Config{Port: 8001, APIEndpoint: DefaultAPIEndpoint, SSLVerify: true})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "password")
}

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	clearCodeBuddyEnv(t)
	t.Setenv("CODEBUDDY_PORT", "9100")
	t.Setenv("CODEBUDDY_PASSWORD", "s3cret")
	t.Setenv("CODEBUDDY_MODELS", "gpt-5, claude-4.0 ,,")
	t.Setenv("CODEBUDDY_ROTATION_COUNT", "4")
	t.Setenv("CODEBUDDY_SSL_VERIFY", "yes")

	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "s3cret", cfg.Password)
	require.Equal(t, []string{"gpt-5", "claude-4.0"}, cfg.Models)
	require.Equal(t, 4, cfg.RotationCount)
	require.True(t, cfg.SSLVerify)
	require.Equal(t, DefaultAPIEndpoint, cfg.APIEndpoint)
}

func TestLoadConfig_FileOverridesEnv(t *testing.T) {
	clearCodeBuddyEnv(t)
	t.Setenv("CODEBUDDY_PORT", "9100")
	t.Setenv("CODEBUDDY_PASSWORD", "from-env")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 9200\n"), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.Port)
	require.Equal(t, "from-env", cfg.Password)
}

func TestLoadConfig_InvalidEnvValue(t *testing.T) {
	clearCodeBuddyEnv(t)
	t.Setenv("CODEBUDDY_PORT", "not-a-number")

	_, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "CODEBUDDY_PORT")
}

func TestLoadConfig_NormalizesRotationCount(t *testing.T) {
	clearCodeBuddyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("rotation-count: 0\nkeyword-replacements:\n  - from: \"\"\n    to: x\n  - from: Claude\n    to: Assistant\n"), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.RotationCount)
	require.Equal(t, []KeywordReplacement{{From: "Claude", To: "Assistant"}}, cfg.KeywordReplacements)
}

func TestConfigGetters_Defaults(t *testing.T) {
	var cfg Config
	require.True(t, cfg.IsMetricsEnabled())
	require.Equal(t, DefaultExpiryGraceSeconds, cfg.GetCredentialExpiryGraceSeconds())
	require.Equal(t, 300*time.Second, cfg.Upstream.GetTimeout())
	require.Equal(t, 30*time.Second, cfg.Upstream.GetConnectTimeout())
	require.Equal(t, 20, cfg.Upstream.GetMaxIdleConns())
	require.Equal(t, 100, cfg.Upstream.GetMaxConns())
	require.Equal(t, 3, cfg.Retry.GetMaxRetries())
	require.Equal(t, time.Second, cfg.Retry.GetBaseDelay())

	disabled := false
	negative := -5
	cfg.MetricsEnabled = &disabled
	cfg.Retry.MaxRetries = &negative
	require.False(t, cfg.IsMetricsEnabled())
	require.Equal(t, 0, cfg.Retry.GetMaxRetries())
}

func TestChatCompletionsURL(t *testing.T) {
	cfg := &Config{APIEndpoint: "https://copilot.tencent.com/"}
	require.Equal(t, "https://copilot.tencent.com/v2/chat/completions", cfg.ChatCompletionsURL())
}

func clearCodeBuddyEnv(t *testing.T) {
	t.Helper()
	for key := range envKeys {
		if value, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, value) })
		}
	}
}
