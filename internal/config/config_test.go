package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("ENGINE_POLL_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 60, cfg.Engine.CooldownCycles)
	assert.Equal(t, 5*time.Second, cfg.Engine.WebhookTimeout)
	assert.Equal(t, 0, cfg.Engine.MaxConsecutiveFailures)
	assert.Equal(t, time.Duration(0), cfg.Engine.ReconcileInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("ENGINE_POLL_INTERVAL", "250ms")
	t.Setenv("ENGINE_COOLDOWN_CYCLES", "10")
	t.Setenv("WEBHOOK_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PollInterval)
	assert.Equal(t, 10, cfg.Engine.CooldownCycles)
	assert.Equal(t, 2*time.Second, cfg.Engine.WebhookTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Engine: EngineConfig{
				PollInterval:   time.Second,
				CooldownCycles: 5,
				WebhookTimeout: time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, true},
		{"zero poll interval", func(c *Config) { c.Engine.PollInterval = 0 }, true},
		{"zero cooldown cycles", func(c *Config) { c.Engine.CooldownCycles = 0 }, true},
		{"negative max failures", func(c *Config) { c.Engine.MaxConsecutiveFailures = -1 }, true},
		{"negative reconcile interval", func(c *Config) { c.Engine.ReconcileInterval = -time.Second }, true},
		{"redis without host", func(c *Config) { c.Redis.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEngines(t *testing.T) {
	data := []byte(`
engines:
  - name: futu
    adapter: http
    base_url: http://localhost:9000
    poll_interval: 2s
  - name: sim
    broker: FUTU
    adapter: mock
`)
	specs, err := ParseEngines(data, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "futu", specs[0].Broker)
	assert.Equal(t, 2*time.Second, specs[0].PollInterval)
	assert.Equal(t, 3*time.Second, specs[0].Timeout)
	assert.Equal(t, "FUTU", specs[1].Broker)
}

func TestParseEngines_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "engines: []",
		"missing url":  "engines:\n  - name: a\n    adapter: http\n",
		"bad adapter":  "engines:\n  - name: a\n    adapter: grpc\n",
		"duplicate":    "engines:\n  - name: a\n    adapter: mock\n  - name: A\n    adapter: mock\n",
		"invalid yaml": "engines: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEngines([]byte(doc), time.Second)
			assert.Error(t, err)
		})
	}
}

func TestLoadEngines_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engines:\n  - name: x\n    adapter: mock\n"), 0o600))

	cfg := &Config{Brokers: BrokersConfig{EnginesFile: path, Timeout: time.Second}}
	specs, err := cfg.LoadEngines()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "x", specs[0].Name)
}

func TestLoadEngines_Fallback(t *testing.T) {
	cfg := &Config{Brokers: BrokersConfig{Name: "mock", Adapter: "mock"}}
	specs, err := cfg.LoadEngines()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "mock", specs[0].Broker)
}
