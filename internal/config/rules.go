package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// GeoSourceRule configures one geo detection source in the fallback
// chain. Lower priority values are tried first.
type GeoSourceRule struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
	IsActive bool   `yaml:"is_active"`
}

// ExchangeRateRule overrides one bilateral conversion rate.
type ExchangeRateRule struct {
	From string  `yaml:"from"`
	To   string  `yaml:"to"`
	Rate float64 `yaml:"rate"`
}

// RoutingRules is the optional operator-supplied routing-rules file:
// geo source chain ordering, provider endpoint overrides (sandbox vs
// production), and fixed exchange rate overrides.
type RoutingRules struct {
	Version           string             `yaml:"version"`
	GeoSources        []GeoSourceRule    `yaml:"geo_sources"`
	ProviderEndpoints map[string]string  `yaml:"provider_endpoints"`
	ExchangeRates     []ExchangeRateRule `yaml:"exchange_rates"`
}

// LoadRoutingRules reads and parses a routing-rules YAML file. Active
// geo sources are returned sorted by priority.
func LoadRoutingRules(path string) (*RoutingRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing rules: %w", err)
	}

	var rules RoutingRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse routing rules: %w", err)
	}

	active := rules.GeoSources[:0]
	for _, source := range rules.GeoSources {
		if source.IsActive {
			active = append(active, source)
		}
	}
	rules.GeoSources = active
	sort.SliceStable(rules.GeoSources, func(i, j int) bool {
		return rules.GeoSources[i].Priority < rules.GeoSources[j].Priority
	})

	return &rules, nil
}

// Endpoint returns the configured endpoint override for a provider, or
// empty when the provider default should be used.
func (r *RoutingRules) Endpoint(provider string) string {
	if r == nil || r.ProviderEndpoints == nil {
		return ""
	}
	return r.ProviderEndpoints[provider]
}
