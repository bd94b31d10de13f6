package experiment

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/samuelfneumann/gorollout/environment"
	"github.com/samuelfneumann/gorollout/model"
	"github.com/samuelfneumann/gorollout/rollout"
)

// Config represents a YAML-serializable configuration of an
// experiment
type Config struct {
	Procs         int      `yaml:"procs"`
	FramesPerProc int      `yaml:"frames_per_proc"`
	Cycles        int      `yaml:"cycles"`
	Discount      float64  `yaml:"discount"`
	GAELambda     float64  `yaml:"gae_lambda"`
	Recurrence    int      `yaml:"recurrence"`
	Channels      []string `yaml:"channels"`
	Diagnostics   []string `yaml:"diagnostics"`
	Hidden        []int    `yaml:"hidden"`
	Seed          uint64   `yaml:"seed"`
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Procs:         16,
		FramesPerProc: 128,
		Cycles:        100,
		Discount:      0.99,
		GAELambda:     0.95,
		Recurrence:    1,
		Hidden:        []int{64, 64},
		Seed:          192382,
	}
}

// LoadConfig reads and validates a Config from a YAML file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: could not read %v: %v",
			path, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("loadConfig: could not parse %v: %v",
			path, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("loadConfig: %v", err)
	}
	return config, nil
}

// Validate checks the configuration for precondition violations
func (c Config) Validate() error {
	if c.Procs <= 0 {
		return fmt.Errorf("validate: procs must be positive")
	}
	if c.FramesPerProc <= 0 {
		return fmt.Errorf("validate: frames_per_proc must be positive")
	}
	if c.Cycles <= 0 {
		return fmt.Errorf("validate: cycles must be positive")
	}
	if c.Recurrence < 1 {
		return fmt.Errorf("validate: recurrence must be at least 1")
	}
	if c.FramesPerProc%c.Recurrence != 0 {
		return fmt.Errorf("validate: frames_per_proc (%d) must be a "+
			"multiple of recurrence (%d)", c.FramesPerProc, c.Recurrence)
	}
	return nil
}

// Create builds the collector over the given environments and model
// and returns the Experiment described by the Config
func (c Config) Create(envs []environment.Environment, ac model.ActorCritic,
	updater Updater, logger zerolog.Logger) (*Experiment, error) {
	if len(envs) != c.Procs {
		return nil, fmt.Errorf("create: illegal environment count "+
			"\n\twant(%v)\n\thave(%v)", c.Procs, len(envs))
	}

	penv, err := environment.NewParallelEnv(envs)
	if err != nil {
		return nil, fmt.Errorf("create: %v", err)
	}

	collector, err := rollout.New(penv, ac, rollout.Config{
		FramesPerProc: c.FramesPerProc,
		Discount:      c.Discount,
		GAELambda:     c.GAELambda,
		Recurrence:    c.Recurrence,
		Channels:      c.Channels,
		Diagnostics:   c.Diagnostics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create: %v", err)
	}

	return New(collector, updater, c.Cycles, logger)
}
