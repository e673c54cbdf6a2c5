// Package config loads runtime settings for the orchestra binary from the
// environment. Command-line flags override the loaded values.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/orchestra/internal/engine"
)

// Environment variables read by Load.
const (
	EnvDatabase     = "ORCHESTRA_DB"
	EnvPollInterval = "ORCHESTRA_POLL_INTERVAL"
	EnvWorkers      = "ORCHESTRA_WORKERS"
	EnvListen       = "ORCHESTRA_LISTEN"
	EnvWaitTopic    = "ORCHESTRA_WAIT_TOPIC"
	EnvMaxSteps     = "ORCHESTRA_MAX_STEPS"
	EnvVerbose      = "ORCHESTRA_VERBOSE"
)

// Defaults used when a variable is unset.
const (
	DefaultDatabasePath = "./orchestra.db"
	DefaultPollInterval = time.Second
	DefaultListenAddr   = ":8080"
)

// Config holds the settings shared by the run and serve commands.
type Config struct {
	DatabasePath    string
	PollInterval    time.Duration
	Workers         int
	ListenAddr      string
	WaitTopic       string
	MaxAdviseCycles int
	Verbose         bool
}

// Default returns the configuration used with an empty environment.
func Default() Config {
	return Config{
		DatabasePath:    DefaultDatabasePath,
		PollInterval:    DefaultPollInterval,
		Workers:         engine.DefaultWorkers,
		ListenAddr:      DefaultListenAddr,
		WaitTopic:       engine.DefaultWaitTopic,
		MaxAdviseCycles: engine.DefaultMaxSteps,
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	def := Default()
	cfg := Config{
		DatabasePath: String(EnvDatabase, def.DatabasePath),
		ListenAddr:   String(EnvListen, def.ListenAddr),
		WaitTopic:    String(EnvWaitTopic, def.WaitTopic),
	}

	var err error
	if cfg.PollInterval, err = Duration(EnvPollInterval, def.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = Int(EnvWorkers, def.Workers); err != nil {
		return Config{}, err
	}
	if cfg.MaxAdviseCycles, err = Int(EnvMaxSteps, def.MaxAdviseCycles); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = Bool(EnvVerbose, false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", EnvDatabase))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", EnvPollInterval, c.PollInterval))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", EnvWorkers, c.Workers))
	}
	if c.MaxAdviseCycles <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", EnvMaxSteps, c.MaxAdviseCycles))
	}
	if c.WaitTopic == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", EnvWaitTopic))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EngineOptions translates the configuration into engine options.
func (c Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithWorkers(c.Workers),
		engine.WithMaxSteps(c.MaxAdviseCycles),
		engine.WithWaitTopic(c.WaitTopic),
	}
}
