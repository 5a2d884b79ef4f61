package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan names.
const (
	PlanFree       = "FREE"
	PlanBasic      = "BASIC"
	PlanPremium    = "PREMIUM"
	PlanEnterprise = "ENTERPRISE"
)

// PlanSettings describes one subscription plan.
type PlanSettings struct {
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Description       string `yaml:"description,omitempty"`
}

// Plans maps plan name to settings.
type Plans map[string]PlanSettings

type plansFile struct {
	Plans Plans `yaml:"plans"`
}

// DefaultPlans returns the built-in plan table.
func DefaultPlans() Plans {
	return Plans{
		PlanFree:       {RequestsPerMinute: 10, Description: "Evaluation tier"},
		PlanBasic:      {RequestsPerMinute: 60},
		PlanPremium:    {RequestsPerMinute: 300},
		PlanEnterprise: {RequestsPerMinute: 1000},
	}
}

// LoadPlansFromPath reads a YAML plan table. Missing plans fall back to the defaults.
func LoadPlansFromPath(path string) (Plans, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}

	var file plansFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}

	plans := DefaultPlans()
	for name, settings := range file.Plans {
		if settings.RequestsPerMinute <= 0 {
			return nil, fmt.Errorf("plan %s: requests_per_minute is required", name)
		}
		plans[strings.ToUpper(name)] = settings
	}
	return plans, nil
}

// Limit returns the per-minute limit for plan, falling back to FREE.
func (p Plans) Limit(plan string) int {
	if s, ok := p[strings.ToUpper(plan)]; ok {
		return s.RequestsPerMinute
	}
	return p[PlanFree].RequestsPerMinute
}

// Valid reports whether plan is known.
func (p Plans) Valid(plan string) bool {
	_, ok := p[strings.ToUpper(plan)]
	return ok
}
