package config

import (
	"sort"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
)

type Preset struct {
	Description string
	Config      *Config
}

var Presets = map[string]Preset{
	"reference": {
		Description: "8192 bodies, seed 100, softening 100, one unit step",
		Config:      DefaultConfig(),
	},
	"pair": {
		Description: "two unit masses one length apart, at rest",
		Config: withRun(RunSection{Bodies: 2, Steps: 1}, PopulationSection{Layout: LayoutPair}),
	},
	"small": {
		Description: "256 seeded bodies for 100 steps",
		Config: withRun(RunSection{Bodies: 256, Steps: 100}, PopulationSection{
			Layout:  LayoutSeeded,
			Seed:    particle.ReferenceSeed,
			Divisor: particle.ReferenceDivisor,
		}),
	},
	"bench": {
		Description: "2048 seeded bodies for 20 steps, no output",
		Config: func() *Config {
			c := withRun(RunSection{Bodies: 2048, Steps: 20}, PopulationSection{
				Layout:  LayoutSeeded,
				Seed:    particle.ReferenceSeed,
				Divisor: particle.ReferenceDivisor,
			})
			c.Output.Save = false
			c.Output.EnergyEvery = 0
			return c
		}(),
	},
}

func withRun(run RunSection, pop PopulationSection) *Config {
	c := DefaultConfig()
	c.Run.Bodies = run.Bodies
	c.Run.Steps = run.Steps
	c.Run.Dt = dynamo.DefaultDt
	c.Population = pop
	return c
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return p.Config.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
