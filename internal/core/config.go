package core

import (
	"sort"
	"sync"
)

// Unit systems understood by Config.
const (
	UnitSystemMetric   = "metric"
	UnitSystemImperial = "imperial"
)

// Config is the installation-wide configuration exposed to clients through
// get_config. Fields are set once at start-up; the component list grows as
// components load.
type Config struct {
	LocationName string
	Latitude     float64
	Longitude    float64
	Elevation    int
	UnitSystem   string
	TimeZone     string
	Version      string
	ConfigDir    string

	mu         sync.RWMutex
	components map[string]struct{}
}

// AddComponent records a loaded component.
func (c *Config) AddComponent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.components == nil {
		c.components = make(map[string]struct{})
	}
	c.components[name] = struct{}{}
}

// Components returns the loaded components, sorted.
func (c *Config) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.components))
	for name := range c.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasComponent reports whether name has been loaded.
func (c *Config) HasComponent(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.components[name]
	return ok
}

// UnitSystemUnits returns the unit names for the configured unit system.
func (c *Config) UnitSystemUnits() map[string]string {
	if c.UnitSystem == UnitSystemImperial {
		return map[string]string{
			"length":      "mi",
			"mass":        "lb",
			"temperature": "°F",
			"volume":      "gal",
			"pressure":    "psi",
		}
	}
	return map[string]string{
		"length":      "km",
		"mass":        "g",
		"temperature": "°C",
		"volume":      "L",
		"pressure":    "Pa",
	}
}

// AsMap returns the get_config payload.
func (c *Config) AsMap() map[string]any {
	components := c.Components()
	return map[string]any{
		"location_name": c.LocationName,
		"latitude":      c.Latitude,
		"longitude":     c.Longitude,
		"elevation":     c.Elevation,
		"unit_system":   c.UnitSystemUnits(),
		"time_zone":     c.TimeZone,
		"version":       c.Version,
		"config_dir":    c.ConfigDir,
		"components":    components,
		"state":         "RUNNING",
	}
}
