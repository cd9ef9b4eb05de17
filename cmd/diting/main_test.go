package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mohamedkhairy/diting/internal/config"
)

func TestEngineConfig(t *testing.T) {
	defaults := config.EngineConfig{
		PollInterval:           time.Second,
		CooldownCycles:         60,
		IdleBackoff:            10 * time.Second,
		ErrorBackoff:           5 * time.Second,
		MaxConsecutiveFailures: 3,
	}

	cfg := engineConfig(defaults, config.EngineSpec{Name: "futu-hk", Broker: "futu"})
	assert.Equal(t, "futu-hk", cfg.Name)
	assert.Equal(t, "futu", cfg.BrokerTag)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 60, cfg.CooldownCycles)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)

	cfg = engineConfig(defaults, config.EngineSpec{Name: "tiger", Broker: "tiger", PollInterval: 3 * time.Second, CooldownCycles: 20})
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 20, cfg.CooldownCycles)
	assert.Equal(t, 10*time.Second, cfg.IdleBackoff)
}
