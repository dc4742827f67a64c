package sampler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy controls the sampling cadence. A sample is published when either
// the interval has elapsed since the last publish or the worker has moved
// beyond the displacement threshold, whichever triggers first. The dual
// trigger avoids update storms from frequent micro-movements while a
// stationary worker still publishes on the interval.
type Policy struct {
	// Interval is the maximum time between published samples.
	Interval time.Duration `yaml:"interval"`

	// Displacement is the movement threshold in metres that publishes a
	// sample ahead of the interval.
	Displacement float64 `yaml:"displacement_meters"`

	// Tick is how often the background task wakes to read the position
	// and evaluate the triggers.
	Tick time.Duration `yaml:"tick"`

	// MaxFailures is the number of consecutive failed position reads
	// before a degraded event is emitted.
	MaxFailures int `yaml:"max_failures"`
}

// UnmarshalYAML decodes a policy, accepting Go duration strings for the
// time fields. Absent fields leave the current values untouched so a file
// can override just part of the default policy.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval     string   `yaml:"interval"`
		Displacement *float64 `yaml:"displacement_meters"`
		Tick         string   `yaml:"tick"`
		MaxFailures  *int     `yaml:"max_failures"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		p.Interval = d
	}
	if raw.Tick != "" {
		d, err := time.ParseDuration(raw.Tick)
		if err != nil {
			return fmt.Errorf("invalid tick: %w", err)
		}
		p.Tick = d
	}
	if raw.Displacement != nil {
		p.Displacement = *raw.Displacement
	}
	if raw.MaxFailures != nil {
		p.MaxFailures = *raw.MaxFailures
	}

	return nil
}

// DefaultPolicy returns the reference cadence: 10 s interval, 50 m
// displacement.
func DefaultPolicy() Policy {
	return Policy{
		Interval:     10 * time.Second,
		Displacement: 50,
		Tick:         2 * time.Second,
		MaxFailures:  3,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if p.Displacement <= 0 {
		return fmt.Errorf("displacement must be positive")
	}
	if p.Tick <= 0 || p.Tick > p.Interval {
		return fmt.Errorf("tick must be positive and no longer than the interval")
	}
	if p.MaxFailures <= 0 {
		return fmt.Errorf("max failures must be positive")
	}
	return nil
}

// LoadPolicy reads a Policy from a YAML file, filling unset fields with
// defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}

	return p, nil
}
