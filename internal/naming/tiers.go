package naming

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier is a subscription plan key.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Limits are the per-application resource limits applied on the remote host.
type Limits struct {
	Memory string `yaml:"memory" json:"memory"`
	CPU    string `yaml:"cpu" json:"cpu"`
}

// defaultTiers is the built-in tier table. A YAML override file can
// replace individual entries via LoadTiers.
var defaultTiers = map[Tier]Limits{
	TierStarter:      {Memory: "512m", CPU: "0.5"},
	TierProfessional: {Memory: "1g", CPU: "1"},
	TierEnterprise:   {Memory: "2g", CPU: "2"},
}

// TierTable maps subscription tiers to resource limits.
type TierTable map[Tier]Limits

// DefaultTiers returns a copy of the built-in tier table.
func DefaultTiers() TierTable {
	t := make(TierTable, len(defaultTiers))
	for k, v := range defaultTiers {
		t[k] = v
	}
	return t
}

// LimitsFor returns the resource limits for a tier. Unrecognized tiers
// fall back to the starter limits; this never fails.
func (t TierTable) LimitsFor(tier Tier) Limits {
	if limits, ok := t[tier]; ok {
		return limits
	}
	return defaultTiers[TierStarter]
}

// LoadTiers reads a YAML tier override file and merges it over the
// built-in table. Tiers absent from the file keep their defaults.
func LoadTiers(path string) (TierTable, error) {
	table := DefaultTiers()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier file %s: %w", path, err)
	}

	var overrides map[Tier]Limits
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse tier file %s: %w", path, err)
	}

	for tier, limits := range overrides {
		table[tier] = limits
	}
	return table, nil
}
