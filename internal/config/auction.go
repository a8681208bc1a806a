package config

import (
	"fmt"
	"os"

	"github.com/auctionhall/auctiond/internal/domain"
	"gopkg.in/yaml.v3"
)

// AuctionConfig is the static auction roster and timing policy loaded
// from a YAML file: which providers exist, which personas they back,
// how long each phase runs and how user extensions behave.
type AuctionConfig struct {
	Providers []domain.Provider       `yaml:"providers"`
	Personas  []domain.PersonaProfile `yaml:"personas"`
	Phases    PhaseTimings            `yaml:"phases"`
	Extension ExtensionPolicy         `yaml:"extension"`
	Bidding   BiddingPolicy           `yaml:"bidding"`
}

// PhaseTimings maps each session phase to its duration in seconds.
type PhaseTimings struct {
	Warmup     int `yaml:"warmup"`
	Discussion int `yaml:"discussion"`
	Bidding    int `yaml:"bidding"`
	Prediction int `yaml:"prediction"`
	Result     int `yaml:"result"`
}

// Seconds returns the configured duration for a phase.
func (p PhaseTimings) Seconds(phase domain.Phase) int {
	switch phase {
	case domain.PhaseWarmup:
		return p.Warmup
	case domain.PhaseDiscussion:
		return p.Discussion
	case domain.PhaseBidding:
		return p.Bidding
	case domain.PhasePrediction:
		return p.Prediction
	case domain.PhaseResult:
		return p.Result
	}
	return 0
}

// ExtensionPolicy bounds user-triggered phase extensions.
type ExtensionPolicy struct {
	Enabled          bool `yaml:"enabled"`
	MaxPerPhase      int  `yaml:"max_per_phase"`
	ExtensionSeconds int  `yaml:"extension_seconds"`
}

// BiddingPolicy bounds agent bids.
type BiddingPolicy struct {
	MinBid float64 `yaml:"min_bid"`
	MaxBid float64 `yaml:"max_bid"`
	Rounds int     `yaml:"rounds"`
}

// LoadAuction reads and validates the auction roster file.
func LoadAuction(path string) (*AuctionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auction config: %w", err)
	}

	var cfg AuctionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse auction config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auction config: %w", err)
	}
	return &cfg, nil
}

// Validate checks internal consistency of the roster.
func (c *AuctionConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	if len(c.Personas) == 0 {
		return fmt.Errorf("at least one persona is required")
	}

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if providers[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		if p.RateLimitPerMinute <= 0 {
			return fmt.Errorf("provider %q: rate_limit_per_minute must be > 0", p.ID)
		}
		if p.BaseEndpoint == "" {
			return fmt.Errorf("provider %q: base_endpoint is required", p.ID)
		}
		providers[p.ID] = true
	}

	for _, persona := range c.Personas {
		if persona.ID == "" {
			return fmt.Errorf("persona with empty id")
		}
		if persona.PreferredProvider == "" {
			return fmt.Errorf("persona %q: preferred_provider is required", persona.ID)
		}
		if !providers[persona.PreferredProvider] {
			return fmt.Errorf("persona %q: unknown provider %q", persona.ID, persona.PreferredProvider)
		}
	}

	for _, phase := range domain.Phases() {
		if c.Phases.Seconds(phase) <= 0 {
			return fmt.Errorf("phase %q: duration must be > 0", phase)
		}
	}

	if c.Extension.Enabled {
		if c.Extension.MaxPerPhase <= 0 {
			return fmt.Errorf("extension: max_per_phase must be > 0 when enabled")
		}
		if c.Extension.ExtensionSeconds <= 0 {
			return fmt.Errorf("extension: extension_seconds must be > 0 when enabled")
		}
	}

	if c.Bidding.MaxBid > 0 && c.Bidding.MinBid > c.Bidding.MaxBid {
		return fmt.Errorf("bidding: min_bid exceeds max_bid")
	}
	if c.Bidding.Rounds <= 0 {
		c.Bidding.Rounds = 1
	}
	return nil
}

// ProviderIDs returns the ids of all configured providers.
func (c *AuctionConfig) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		ids = append(ids, p.ID)
	}
	return ids
}

// RateLimits returns the per-provider per-minute admission limits.
func (c *AuctionConfig) RateLimits() map[string]int {
	limits := make(map[string]int, len(c.Providers))
	for _, p := range c.Providers {
		limits[p.ID] = p.RateLimitPerMinute
	}
	return limits
}

// ProviderByID returns the provider with the given id.
func (c *AuctionConfig) ProviderByID(id string) (domain.Provider, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Provider{}, false
}

// PersonaByID returns the persona with the given id.
func (c *AuctionConfig) PersonaByID(id string) (domain.PersonaProfile, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return domain.PersonaProfile{}, false
}
