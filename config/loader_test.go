// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, guardrails.DefaultInjectionThreshold, cfg.Engine.Thresholds.Injection)
	assert.Equal(t, "memory", cfg.Incidents.Store)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

guardrails:
  enabled_classes: [injection, data-leak]
  detector_timeout: 500ms
  thresholds:
    injection: 0.8
    toxicity: 0.5
  exemptions:
    roles: [red-team]
  actions:
    sanitize_replacement: "[REMOVED]"

incidents:
  store: redis
  key_prefix: "gr:inc"

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, []guardrails.ThreatClass{guardrails.ClassInjection, guardrails.ClassDataLeak}, cfg.Engine.EnabledClasses)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.DetectorTimeout)
	assert.Equal(t, 0.8, cfg.Engine.Thresholds.Injection)
	assert.Equal(t, 0.5, cfg.Engine.Thresholds.Toxicity)
	// 未出现的阈值保留默认值
	assert.Equal(t, guardrails.DefaultJailbreakThreshold, cfg.Engine.Thresholds.Jailbreak)
	assert.Equal(t, []string{"red-team"}, cfg.Engine.Exemptions.Roles)
	assert.Equal(t, "[REMOVED]", cfg.Engine.Actions.SanitizeReplacement)

	assert.Equal(t, "redis", cfg.Incidents.Store)
	assert.Equal(t, "gr:inc", cfg.Incidents.KeyPrefix)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"GUARDRAILS_SERVER_HTTP_PORT":                "7777",
		"GUARDRAILS_SERVER_API_KEYS":                 "a, b,,c",
		"GUARDRAILS_ENGINE_THRESHOLDS_INJECTION":     "0.85",
		"GUARDRAILS_ENGINE_ENABLED_CLASSES":          "bias,toxicity",
		"GUARDRAILS_ENGINE_DETECTOR_TIMEOUT":         "1s",
		"GUARDRAILS_ENGINE_EXEMPTIONS_USERS":         "svc-eval",
		"GUARDRAILS_ENGINE_SEVERITY_BREAKPOINTS_LOW": "0.3",
		"GUARDRAILS_ENGINE_ACTIONS_LOG_ALLOWED":      "true",
		"GUARDRAILS_INCIDENTS_STORE":                 "database",
		"GUARDRAILS_DATABASE_DRIVER":                 "sqlite",
		"GUARDRAILS_LOG_LEVEL":                       "warn",
		"GUARDRAILS_JWT_SECRET":                      "s3cret",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
	assert.Equal(t, 0.85, cfg.Engine.Thresholds.Injection)
	assert.Equal(t, []guardrails.ThreatClass{guardrails.ClassBias, guardrails.ClassToxicity}, cfg.Engine.EnabledClasses)
	assert.Equal(t, time.Second, cfg.Engine.DetectorTimeout)
	assert.Equal(t, []string{"svc-eval"}, cfg.Engine.Exemptions.Users)
	assert.Equal(t, 0.3, cfg.Engine.SeverityBreakpoints.Low)
	assert.True(t, cfg.Engine.Actions.LogAllowed)
	assert.Equal(t, "database", cfg.Incidents.Store)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.JWT.Enabled())
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
guardrails:
  thresholds:
    injection: 0.8
    jailbreak: 0.9
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	// 环境变量应该覆盖 YAML
	t.Setenv("GUARDRAILS_SERVER_HTTP_PORT", "9999")
	t.Setenv("GUARDRAILS_ENGINE_THRESHOLDS_INJECTION", "0.65")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 0.65, cfg.Engine.Thresholds.Injection)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, 0.9, cfg.Engine.Thresholds.Jailbreak)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_INCIDENTS_KEY_PREFIX", "custom")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "custom", cfg.Incidents.KeyPrefix)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("GUARDRAILS_ENGINE_DETECTOR_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GUARDRAILS_ENGINE_DETECTOR_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("GUARDRAILS_INCIDENTS_STORE", "cassandra")

	_, err := NewLoader().
		WithValidator((*Config).Validate).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown incident store")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0o644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "tls cert without key",
			modify:  func(c *Config) { c.Server.TLSCertFile = "/etc/guardrails/tls.crt" },
			wantErr: true,
		},
		{
			name: "tls cert and key",
			modify: func(c *Config) {
				c.Server.TLSCertFile = "/etc/guardrails/tls.crt"
				c.Server.TLSKeyFile = "/etc/guardrails/tls.key"
			},
			wantErr: false,
		},
		{
			name:    "invalid HTTP port (negative)",
			modify:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: true,
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: true,
		},
		{
			name:    "metrics port collides",
			modify:  func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort },
			wantErr: true,
		},
		{
			name:    "metrics server disabled",
			modify:  func(c *Config) { c.Server.MetricsPort = 0 },
			wantErr: false,
		},
		{
			name:    "unknown incident store",
			modify:  func(c *Config) { c.Incidents.Store = "s3" },
			wantErr: true,
		},
		{
			name: "database store with unsupported driver",
			modify: func(c *Config) {
				c.Incidents.Store = "database"
				c.Database.Driver = "oracle"
			},
			wantErr: true,
		},
		{
			name: "redis store without addr",
			modify: func(c *Config) {
				c.Incidents.Store = "redis"
				c.Redis.Addr = ""
			},
			wantErr: true,
		},
		{
			name:    "sample rate out of range",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: true,
		},
		{
			// 阈值越界由 Normalize 回退，不在此报错
			name:    "engine threshold out of range",
			modify:  func(c *Config) { c.Engine.Thresholds.Injection = 3 },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0o644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0o644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("GUARDRAILS_TELEMETRY_SERVICE_NAME", "gr-edge")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gr-edge", cfg.Telemetry.ServiceName)
}
