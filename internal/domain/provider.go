package domain

// Provider is the static configuration of one upstream AI backend.
type Provider struct {
	ID                 string   `json:"id" yaml:"id"`
	BaseEndpoint       string   `json:"base_endpoint" yaml:"base_endpoint"`
	Model              string   `json:"model" yaml:"model"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CostPerCall        float64  `json:"cost_per_call" yaml:"cost_per_call"`
	APIKeyEnv          string   `json:"-" yaml:"api_key_env"`
	PersonaIDs         []string `json:"persona_ids" yaml:"persona_ids"`
}

// PersonaProfile is the immutable identity of a simulated agent.
type PersonaProfile struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	Specialty         string `json:"specialty" yaml:"specialty"`
	SystemPrompt      string `json:"-" yaml:"system_prompt"`
	PreferredProvider string `json:"preferred_provider" yaml:"preferred_provider"`
}
