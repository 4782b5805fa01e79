package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is an optional YAML run-profile (spec §9's script-adjacent
// configuration file) that pre-sets flags for repeatable runs. Every
// scalar field is a pointer so a profile can leave a flag unset and let
// an explicit CLI flag (or the built-in default) take precedence;
// grounded on the teacher's internal/performance/v2/config/schema.go
// optional-field pattern.
type Profile struct {
	URL           *string           `yaml:"url"`
	Connections   *int              `yaml:"connections"`
	Threads       *int              `yaml:"threads"`
	Duration      *string           `yaml:"duration"`
	Rate          *string           `yaml:"rate"`
	Timeout       *string           `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
	Method        *string           `yaml:"method"`
	Body          *string           `yaml:"body"`
	RecordAll     *bool             `yaml:"record_all"`
	Warmup        *bool             `yaml:"warmup"`
	WarmupTimeout *string           `yaml:"warmup_timeout"`
	LocalAddrs    []string          `yaml:"local_ip"`
}

// LoadProfile reads and parses a YAML run-profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read run profile %q: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse run profile %q: %w", path, err)
	}
	return &p, nil
}

// ApplyTo merges every field p sets into cfg. Callers are responsible for
// ordering: apply the profile before any explicit CLI flags so flags win.
func (p *Profile) ApplyTo(cfg *Config) error {
	if p.URL != nil {
		u, err := ResolveURL(*p.URL)
		if err != nil {
			return err
		}
		cfg.URL = u
	}
	if p.Connections != nil {
		cfg.Connections = *p.Connections
	}
	if p.Threads != nil {
		cfg.Threads = *p.Threads
	}
	if p.Duration != nil {
		d, err := ParseTime(*p.Duration)
		if err != nil {
			return err
		}
		cfg.Duration = d
	}
	if p.Rate != nil {
		r, err := ParseMetric(*p.Rate)
		if err != nil {
			return err
		}
		cfg.Rate = r
	}
	if p.Timeout != nil {
		d, err := ParseTime(*p.Timeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	if len(p.Headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range p.Headers {
			cfg.Headers[k] = v
		}
	}
	if p.Method != nil {
		cfg.Method = *p.Method
	}
	if p.Body != nil {
		cfg.Body = []byte(*p.Body)
	}
	if p.RecordAll != nil {
		cfg.RecordAll = *p.RecordAll
	}
	if p.Warmup != nil {
		cfg.Warmup = *p.Warmup
	}
	if p.WarmupTimeout != nil {
		d, err := ParseTime(*p.WarmupTimeout)
		if err != nil {
			return err
		}
		cfg.WarmupTimeout = d
	}
	if len(p.LocalAddrs) > 0 {
		cfg.LocalAddrs = p.LocalAddrs
	}
	return nil
}
