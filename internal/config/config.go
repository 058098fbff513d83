package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/gcfg.v1"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/kernel"
	"github.com/san-kum/nbodycl/internal/particle"
)

const (
	DefaultBodies      = 8192
	DefaultSteps       = 1
	DefaultEnergyEvery = 1
	DefaultOutputDir   = "runs"
)

const (
	LayoutSeeded = "seeded"
	LayoutPair   = "pair"
)

// Config is the on-disk run description. The same struct reads YAML files
// and INI-style gcfg files; in the latter each field group is a [section].
type Config struct {
	Run        RunSection        `yaml:"run"`
	Population PopulationSection `yaml:"population"`
	Output     OutputSection     `yaml:"output"`
}

type RunSection struct {
	Bodies          int     `yaml:"bodies" gcfg:"bodies"`
	Steps           int     `yaml:"steps" gcfg:"steps"`
	Dt              float64 `yaml:"dt" gcfg:"dt"`
	Softening       float64 `yaml:"softening" gcfg:"softening"`
	G               float64 `yaml:"g" gcfg:"g"`
	Integrator      string  `yaml:"integrator" gcfg:"integrator"`
	Backend         string  `yaml:"backend" gcfg:"backend"`
	Workers         int     `yaml:"workers" gcfg:"workers"`
	StageMassesOnce bool    `yaml:"stage_masses_once" gcfg:"stage-masses-once"`
}

type PopulationSection struct {
	Layout  string  `yaml:"layout" gcfg:"layout"`
	Seed    int64   `yaml:"seed" gcfg:"seed"`
	Divisor float64 `yaml:"divisor" gcfg:"divisor"`
	// From names a stored run whose final state seeds this one.
	From string `yaml:"from,omitempty" gcfg:"from"`
}

type OutputSection struct {
	Dir         string `yaml:"dir" gcfg:"dir"`
	Save        bool   `yaml:"save" gcfg:"save"`
	EnergyEvery int    `yaml:"energy_every" gcfg:"energy-every"`
	// StabilityRadius enables the stability metric when positive.
	StabilityRadius float64 `yaml:"stability_radius" gcfg:"stability-radius"`
}

func DefaultConfig() *Config {
	return &Config{
		Run: RunSection{
			Bodies:     DefaultBodies,
			Steps:      DefaultSteps,
			Dt:         dynamo.DefaultDt,
			Softening:  dynamo.DefaultSoftening,
			G:          dynamo.DefaultG,
			Integrator: "euler",
			Backend:    "auto",
		},
		Population: PopulationSection{
			Layout:  LayoutSeeded,
			Seed:    particle.ReferenceSeed,
			Divisor: particle.ReferenceDivisor,
		},
		Output: OutputSection{
			Dir:         DefaultOutputDir,
			Save:        true,
			EnergyEvery: DefaultEnergyEvery,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto reads path over cfg, leaving fields the file does not set
// untouched. Files ending in .gcfg, .ini or .cfg are parsed as gcfg;
// anything else as YAML.
func LoadInto(cfg *Config, path string) error {
	if isINI(path) {
		if err := gcfg.ReadFileInto(cfg, path); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Parse reads gcfg text over the defaults.
func Parse(text string) (*Config, error) {
	cfg := DefaultConfig()
	if err := gcfg.ReadStringInto(cfg, text); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if isINI(path) {
		return errors.New("config: saving is only supported as YAML")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func isINI(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gcfg", ".ini", ".cfg":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	if err := c.ToRunConfig().Validate(); err != nil {
		return err
	}
	switch c.Population.Layout {
	case LayoutSeeded:
		if c.Population.Divisor <= 0 {
			return fmt.Errorf("population divisor must be positive, got %v", c.Population.Divisor)
		}
	case LayoutPair:
		if c.Run.Bodies != 2 {
			return fmt.Errorf("%w: pair layout needs 2 bodies, got %d", dynamo.ErrInvalidCount, c.Run.Bodies)
		}
	default:
		return fmt.Errorf("unknown population layout: %q", c.Population.Layout)
	}
	if c.Output.EnergyEvery < 0 {
		return fmt.Errorf("energy_every must be non-negative, got %d", c.Output.EnergyEvery)
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Run.Workers)
	}
	return nil
}

func (c *Config) ToRunConfig() dynamo.RunConfig {
	return dynamo.RunConfig{
		N:          c.Run.Bodies,
		Steps:      c.Run.Steps,
		Dt:         float32(c.Run.Dt),
		Softening:  float32(c.Run.Softening),
		G:          float32(c.Run.G),
		Workers:    c.Run.Workers,
		Integrator: c.Run.Integrator,
		Backend:    c.Run.Backend,
	}
}

func (c *Config) Params() kernel.Params {
	return kernel.Params{Softening: float32(c.Run.Softening), G: float32(c.Run.G)}
}

func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
