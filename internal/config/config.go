// Package config loads application configuration from YAML with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/courtline/policycore/internal/breaker"
	"github.com/courtline/policycore/internal/fallback"
	"github.com/courtline/policycore/internal/optimizer"
	"github.com/courtline/policycore/internal/quality"
)

// App is the full application configuration
type App struct {
	Server    Server           `yaml:"server"`
	Storage   Storage          `yaml:"storage"`
	Risk      Risk             `yaml:"risk"`
	Breakers  breaker.Settings `yaml:"breakers"`
	Fallback  Fallback         `yaml:"fallback"`
	Quality   quality.GateConfig `yaml:"quality"`
	Optimizer optimizer.Config `yaml:"optimizer"`
}

type Server struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Storage struct {
	Driver       string        `yaml:"driver"` // postgres or memory
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type Risk struct {
	BankrollUSD float64 `yaml:"bankroll_usd"`
}

type Fallback struct {
	Levels           []fallback.LevelSpec `yaml:"levels"`
	LookupsPerSecond float64              `yaml:"lookups_per_second"`
	LookupBurst      int                  `yaml:"lookup_burst"`
	LookupTimeout    time.Duration        `yaml:"lookup_timeout"`
}

func Default() App {
	return App{
		Server: Server{
			ListenAddr:      ":8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{
			Driver:       "memory",
			MaxOpenConns: 10,
			QueryTimeout: 5 * time.Second,
		},
		Risk: Risk{
			BankrollUSD: 10000,
		},
		Breakers: breaker.DefaultSettings(),
		Fallback: Fallback{
			Levels:           fallback.DefaultLevels(),
			LookupsPerSecond: 50,
			LookupBurst:      10,
			LookupTimeout:    5 * time.Second,
		},
		Quality:   quality.DefaultGateConfig(),
		Optimizer: optimizer.DefaultConfig(),
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. A file that exists but fails to parse is an error.
func Load(path string) (App, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return App{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return App{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if dsn := os.Getenv("POLICYCORE_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

func (a App) Validate() error {
	switch a.Storage.Driver {
	case "postgres":
		if a.Storage.DSN == "" {
			return fmt.Errorf("storage: postgres driver requires a dsn (set POLICYCORE_DB_DSN or storage.dsn)")
		}
	case "memory":
	default:
		return fmt.Errorf("storage: unknown driver %q", a.Storage.Driver)
	}
	if a.Risk.BankrollUSD <= 0 {
		return fmt.Errorf("risk: bankroll_usd must be positive, got %.2f", a.Risk.BankrollUSD)
	}
	if len(a.Fallback.Levels) == 0 {
		return fmt.Errorf("fallback: at least one level is required")
	}
	return nil
}
