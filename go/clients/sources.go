package clients

import "sort"

// ExternalSource identifies a geolocation provider.
type ExternalSource string

const (
	// ExternalSourceFirstParty is our own same-origin /api/geo endpoint
	ExternalSourceFirstParty ExternalSource = "firstparty"

	// ExternalSourceIPAPI represents ipapi.co
	ExternalSourceIPAPI ExternalSource = "ipapi"

	// ExternalSourceIPWhois represents ipwho.is
	ExternalSourceIPWhois ExternalSource = "ipwhois"

	// ExternalSourceFreeIPAPI represents freeipapi.com
	ExternalSourceFreeIPAPI ExternalSource = "freeipapi"
)

// Tier groups sources that are tried together.
type Tier int

const (
	// TierFirstParty is tried alone, with a short timeout.
	TierFirstParty Tier = iota + 1
	// TierThirdParty sources race each other once the first party fails.
	TierThirdParty
)

// ExternalSourceConfig holds configuration for external sources
type ExternalSourceConfig struct {
	Source      ExternalSource `json:"source" yaml:"source"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Tier        Tier           `json:"tier" yaml:"tier"`
	Priority    int            `json:"priority" yaml:"priority"` // Higher priority sources are started first within a tier
	Active      bool           `json:"active" yaml:"active"`
}

// GetExternalSources returns all known geo sources
func GetExternalSources() map[ExternalSource]ExternalSourceConfig {
	return map[ExternalSource]ExternalSourceConfig{
		ExternalSourceFirstParty: {
			Source:      ExternalSourceFirstParty,
			Name:        "First party",
			Description: "Same-origin geo endpoint backed by edge request headers",
			Tier:        TierFirstParty,
			Priority:    100,
			Active:      true,
		},
		ExternalSourceIPAPI: {
			Source:      ExternalSourceIPAPI,
			Name:        "ipapi.co",
			Description: "ipapi.co JSON lookup",
			Tier:        TierThirdParty,
			Priority:    90,
			Active:      true,
		},
		ExternalSourceIPWhois: {
			Source:      ExternalSourceIPWhois,
			Name:        "ipwho.is",
			Description: "ipwho.is JSON lookup",
			Tier:        TierThirdParty,
			Priority:    80,
			Active:      true,
		},
		ExternalSourceFreeIPAPI: {
			Source:      ExternalSourceFreeIPAPI,
			Name:        "freeipapi.com",
			Description: "freeipapi.com JSON lookup",
			Tier:        TierThirdParty,
			Priority:    70,
			Active:      true,
		},
	}
}

// ValidateExternalSource checks if the source is valid
func ValidateExternalSource(source ExternalSource) bool {
	sources := GetExternalSources()
	_, exists := sources[source]
	return exists
}

// GetActiveExternalSources returns only active external sources
func GetActiveExternalSources() map[ExternalSource]ExternalSourceConfig {
	all := GetExternalSources()
	active := make(map[ExternalSource]ExternalSourceConfig)

	for source, config := range all {
		if config.Active {
			active[source] = config
		}
	}

	return active
}

// SourcesInTier returns the active sources of a tier, highest priority first.
func SourcesInTier(tier Tier) []ExternalSourceConfig {
	var out []ExternalSourceConfig
	for _, config := range GetActiveExternalSources() {
		if config.Tier == tier {
			out = append(out, config)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// SortByPriority orders providers using the registry priority.
// Unknown sources go last.
func SortByPriority(providers []GeoProvider) {
	all := GetExternalSources()
	sort.SliceStable(providers, func(i, j int) bool {
		return all[providers[i].Source()].Priority > all[providers[j].Source()].Priority
	})
}
