package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
agent:
  owner: "0xowner"
  agents: ["0xkeeper"]
  strategies: ["venus", "beefy"]
  cooldown: 1h
  dry_run: true
simulation:
  current: venus
  strategies:
    - id: venus
      apy: 500
      tvl: "2000000000000000000"
      risk_level: 2
      healthy: true
logger:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "0xowner", cfg.Agent.Owner)
	assert.Equal(t, []string{"0xkeeper"}, cfg.Agent.Agents)
	assert.Equal(t, time.Hour, cfg.Agent.Cooldown)
	assert.True(t, cfg.Agent.DryRun)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// Defaults fill whatever the file leaves out.
	assert.Equal(t, int64(2000), cfg.Agent.MinImprovementBps)
	assert.Equal(t, 5*time.Minute, cfg.Agent.TickInterval)
	assert.Equal(t, 4, cfg.Agent.RefreshConcurrency)
	assert.Equal(t, "vault.decisions", cfg.Kafka.Topic)

	require.Len(t, cfg.Simulation.Strategies, 1)
	assert.Equal(t, "venus", cfg.Simulation.Strategies[0].ID)
	assert.Equal(t, uint64(2), cfg.Simulation.Strategies[0].RiskLevel)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("AGENT_MIN_IMPROVEMENT_BPS", "500")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, int64(500), cfg.Agent.MinImprovementBps)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Agent: Agent{
				Owner:              "0xowner",
				Cooldown:           time.Hour,
				MinImprovementBps:  2000,
				TickInterval:       time.Minute,
				MoveTimeout:        time.Minute,
				MetricsTimeout:     time.Second,
				RefreshConcurrency: 2,
			},
			Metrics: Endpoint{BaseURL: "http://metrics"},
			Vault:   Endpoint{BaseURL: "http://vault"},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing owner", mutate: func(c *Config) { c.Agent.Owner = " " }, wantErr: "agent.owner"},
		{name: "negative cooldown", mutate: func(c *Config) { c.Agent.Cooldown = -time.Second }, wantErr: "agent.cooldown"},
		{name: "negative threshold", mutate: func(c *Config) { c.Agent.MinImprovementBps = -1 }, wantErr: "min_improvement_bps"},
		{name: "cooldown above bound", mutate: func(c *Config) { c.Agent.Cooldown = MaxCooldown + time.Second }, wantErr: "agent.cooldown"},
		{name: "cooldown at bound", mutate: func(c *Config) { c.Agent.Cooldown = MaxCooldown }},
		{name: "threshold above bound", mutate: func(c *Config) { c.Agent.MinImprovementBps = MaxMinImprovementBps + 1 }, wantErr: "min_improvement_bps"},
		{name: "threshold at bound", mutate: func(c *Config) { c.Agent.MinImprovementBps = MaxMinImprovementBps }},
		{name: "zero tick", mutate: func(c *Config) { c.Agent.TickInterval = 0 }, wantErr: "tick_interval"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Agent.RefreshConcurrency = 0 }, wantErr: "refresh_concurrency"},
		{name: "live without metrics url", mutate: func(c *Config) { c.Metrics.BaseURL = "" }, wantErr: "metrics.base_url"},
		{name: "dry run without urls", mutate: func(c *Config) {
			c.Agent.DryRun = true
			c.Metrics.BaseURL = ""
			c.Vault.BaseURL = ""
		}},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: "kafka.brokers"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
