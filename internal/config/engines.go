package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineSpec describes one quote engine: the broker tag it serves and the
// adapter used to reach the quote source.
type EngineSpec struct {
	Name    string        `yaml:"name"`
	Broker  string        `yaml:"broker"`
	Adapter string        `yaml:"adapter"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// Optional per-engine overrides of EngineConfig
	PollInterval   time.Duration `yaml:"poll_interval"`
	CooldownCycles int           `yaml:"cooldown_cycles"`
}

type enginesFile struct {
	Engines []EngineSpec `yaml:"engines"`
}

// LoadEngines returns the engines to run. When ENGINES_FILE is set the list
// is read from that YAML file, otherwise a single engine is built from the
// BROKER_* variables.
func (c *Config) LoadEngines() ([]EngineSpec, error) {
	if c.Brokers.EnginesFile == "" {
		spec := EngineSpec{
			Name:    c.Brokers.Name,
			Broker:  c.Brokers.Name,
			Adapter: c.Brokers.Adapter,
			BaseURL: c.Brokers.BaseURL,
			APIKey:  c.Brokers.APIKey,
			Timeout: c.Brokers.Timeout,
		}
		if err := spec.validate(); err != nil {
			return nil, err
		}
		return []EngineSpec{spec}, nil
	}

	data, err := os.ReadFile(c.Brokers.EnginesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read engines file: %w", err)
	}
	return ParseEngines(data, c.Brokers.Timeout)
}

// ParseEngines decodes an engines YAML document
func ParseEngines(data []byte, defaultTimeout time.Duration) ([]EngineSpec, error) {
	var file enginesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse engines file: %w", err)
	}
	if len(file.Engines) == 0 {
		return nil, fmt.Errorf("engines file declares no engines")
	}

	seen := make(map[string]bool, len(file.Engines))
	for i := range file.Engines {
		spec := &file.Engines[i]
		if spec.Broker == "" {
			spec.Broker = spec.Name
		}
		if spec.Timeout == 0 {
			spec.Timeout = defaultTimeout
		}
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("engine %d: %w", i, err)
		}
		key := strings.ToLower(spec.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate engine name %q", spec.Name)
		}
		seen[key] = true
	}
	return file.Engines, nil
}

func (s EngineSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("engine name is required")
	}
	switch s.Adapter {
	case "mock":
	case "http":
		if s.BaseURL == "" {
			return fmt.Errorf("engine %q: base_url is required for the http adapter", s.Name)
		}
	default:
		return fmt.Errorf("engine %q: unsupported adapter %q", s.Name, s.Adapter)
	}
	if s.CooldownCycles < 0 {
		return fmt.Errorf("engine %q: cooldown_cycles must not be negative", s.Name)
	}
	return nil
}
