package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Route groups the gateway can mount.
var RouteGroups = []string{
	"profiles",
	"community",
	"nexus",
	"foundation",
	"ethos",
	"discord",
	"blog",
	"identity",
	"admin",
}

// ServiceSettings toggles one route group.
type ServiceSettings struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description"`
}

// ServicesConfig is the content of config/services.yaml.
type ServicesConfig struct {
	Services map[string]*ServiceSettings `yaml:"services"`
}

// IsEnabled reports whether a route group is enabled. Groups missing from
// the file stay enabled.
func (c *ServicesConfig) IsEnabled(name string) bool {
	if c == nil || c.Services == nil {
		return true
	}
	s, ok := c.Services[name]
	if !ok || s == nil {
		return true
	}
	return s.Enabled
}

// Enabled returns the enabled route groups in sorted order.
func (c *ServicesConfig) Enabled() []string {
	var out []string
	for _, name := range RouteGroups {
		if c.IsEnabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	known := make(map[string]bool, len(RouteGroups))
	for _, name := range RouteGroups {
		known[name] = true
	}
	for name := range cfg.Services {
		if !known[name] {
			return nil, fmt.Errorf("unknown route group %q", name)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns default if file not found
func LoadServicesConfigOrDefault(path string) *ServicesConfig {
	cfg, err := LoadServicesConfigFromPath(path)
	if err != nil {
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig enables every route group.
func DefaultServicesConfig() *ServicesConfig {
	descriptions := map[string]string{
		"profiles":   "User profiles and directory",
		"community":  "Community posts, likes and comments",
		"nexus":      "Freelance marketplace and Stripe Connect payouts",
		"foundation": "Courses, lessons and enrollments",
		"ethos":      "Music track library",
		"discord":    "Discord account linking and bot interactions",
		"blog":       "Ghost blog proxy",
		"identity":   "Web3 wallet and Roblox sign-in",
		"admin":      "Administrative stats, roles and audit",
	}

	cfg := &ServicesConfig{Services: make(map[string]*ServiceSettings, len(RouteGroups))}
	for _, name := range RouteGroups {
		cfg.Services[name] = &ServiceSettings{Enabled: true, Description: descriptions[name]}
	}
	return cfg
}
