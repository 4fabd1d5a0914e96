package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RoutingPolicy selects which backend family a dispatch tries first.
type RoutingPolicy string

const (
	PolicyLocalFirst  RoutingPolicy = "local-first"
	PolicyRemoteFirst RoutingPolicy = "remote-first"
)

// RoutingConfig holds the dispatch routing configuration: the tier catalog,
// per-category ladders, admission budgets and confidence thresholds.
type RoutingConfig struct {
	Tiers         []TierConfig        `yaml:"tiers"`
	Ladders       map[string][]string `yaml:"ladders"`
	DefaultLadder []string            `yaml:"default_ladder"`

	PrimaryTier   string `yaml:"primary_tier"`
	SecondaryTier string `yaml:"secondary_tier"`

	Policy              RoutingPolicy `yaml:"policy,omitempty"`
	OptionalTierEnabled *bool         `yaml:"optional_tier_enabled,omitempty"`
	ConstrainedMode     bool          `yaml:"constrained_mode,omitempty"`

	GlobalConfidenceMin float64 `yaml:"global_confidence_min,omitempty"`
	LocalConfidenceMin  float64 `yaml:"local_confidence_min,omitempty"`
	MaxLocalAttempts    int     `yaml:"max_local_attempts,omitempty"`
	MaxHopsRoutine      int     `yaml:"max_hops_routine,omitempty"`
	MaxHopsCritical     int     `yaml:"max_hops_critical,omitempty"`
	LongContextTokens   int     `yaml:"long_context_tokens,omitempty"`

	Buckets map[string]int `yaml:"buckets,omitempty"`

	CacheTTLSeconds        int `yaml:"cache_ttl_seconds,omitempty"`
	BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds,omitempty"`
	ModelCacheTTLSeconds   int `yaml:"model_cache_ttl_seconds,omitempty"`

	Scoring ScoringConfig `yaml:"scoring,omitempty"`
}

// TierConfig describes one configured backend tier.
type TierConfig struct {
	ID             string `yaml:"id"`
	Kind           string `yaml:"kind"` // "local" or "remote"
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model,omitempty"` // empty for local: resolved dynamically
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	Optional       bool   `yaml:"optional,omitempty"`
}

// Timeout returns the tier's invocation timeout.
func (t TierConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// ScoringConfig tunes local model selection. The substring-match algorithm
// with task-type bonuses is fixed; the weights are tunable.
type ScoringConfig struct {
	Families         []FamilyWeight `yaml:"families,omitempty"`
	CoderBonus       int            `yaml:"coder_bonus,omitempty"`
	ReasonerBonus    int            `yaml:"reasoner_bonus,omitempty"`
	CompactBonus     int            `yaml:"compact_bonus,omitempty"`
	ShortPromptChars int            `yaml:"short_prompt_chars,omitempty"`
}

// FamilyWeight scores model ids containing a family substring.
type FamilyWeight struct {
	Match  string `yaml:"match"`
	Weight int    `yaml:"weight"`
}

// CacheTTL returns the response cache TTL.
func (c *RoutingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// BreakerCooldown returns the per-tier cooldown applied after a timeout.
func (c *RoutingConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// ModelCacheTTL returns the local-model resolution memoization window.
// Zero means every dispatch probes the local server fresh.
func (c *RoutingConfig) ModelCacheTTL() time.Duration {
	return time.Duration(c.ModelCacheTTLSeconds) * time.Second
}

// OptionalEnabled reports whether optional tiers participate in ladders.
func (c *RoutingConfig) OptionalEnabled() bool {
	return c.OptionalTierEnabled == nil || *c.OptionalTierEnabled
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks referential integrity of the routing tables.
func (c *RoutingConfig) Validate() error {
	ids := make(map[string]TierConfig, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.ID == "" {
			return fmt.Errorf("tier with empty id")
		}
		if t.Kind != "local" && t.Kind != "remote" {
			return fmt.Errorf("tier %s: unknown kind %q", t.ID, t.Kind)
		}
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("duplicate tier id %s", t.ID)
		}
		ids[t.ID] = t
	}

	checkLadder := func(name string, ladder []string) error {
		for _, id := range ladder {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("ladder %s references unknown tier %s", name, id)
			}
		}
		return nil
	}
	for name, ladder := range c.Ladders {
		if err := checkLadder(name, ladder); err != nil {
			return err
		}
	}
	if err := checkLadder("default", c.DefaultLadder); err != nil {
		return err
	}
	if len(c.DefaultLadder) == 0 {
		return fmt.Errorf("default ladder is empty")
	}

	for _, ref := range []struct{ name, id string }{
		{"primary_tier", c.PrimaryTier},
		{"secondary_tier", c.SecondaryTier},
	} {
		if ref.id == "" {
			continue
		}
		t, ok := ids[ref.id]
		if !ok {
			return fmt.Errorf("%s references unknown tier %s", ref.name, ref.id)
		}
		if t.Kind != "remote" {
			return fmt.Errorf("%s must be a remote tier, got %s", ref.name, ref.id)
		}
	}

	if c.Policy != PolicyLocalFirst && c.Policy != PolicyRemoteFirst {
		return fmt.Errorf("unknown routing policy %q", c.Policy)
	}
	if c.GlobalConfidenceMin < 0 || c.GlobalConfidenceMin > 1 {
		return fmt.Errorf("global_confidence_min out of range: %v", c.GlobalConfidenceMin)
	}
	if c.LocalConfidenceMin < 0 || c.LocalConfidenceMin > 1 {
		return fmt.Errorf("local_confidence_min out of range: %v", c.LocalConfidenceMin)
	}
	return nil
}

// ApplyDefaults fills unset fields with their default values.
func (c *RoutingConfig) ApplyDefaults() {
	applyRoutingDefaults(c)
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Tiers: []TierConfig{
			{ID: "local", Kind: "local", Provider: "local", TimeoutSeconds: 45},
			{ID: "cloud-primary", Kind: "remote", Provider: "anthropic", Model: "claude-sonnet-4-20250514", TimeoutSeconds: 60},
			{ID: "cloud-secondary", Kind: "remote", Provider: "openai", Model: "gpt-5.2-thinking", TimeoutSeconds: 60},
			{ID: "cloud-reasoner", Kind: "remote", Provider: "google", Model: "gemini-2.0-pro", TimeoutSeconds: 90},
			{ID: "cloud-overflow", Kind: "remote", Provider: "openrouter", Model: "deepseek/deepseek-chat", TimeoutSeconds: 60, Optional: true},
		},
		Ladders: map[string][]string{
			"code":      {"local", "cloud-primary", "cloud-secondary", "cloud-overflow"},
			"json":      {"local", "cloud-primary", "cloud-secondary"},
			"policy":    {"local", "cloud-primary", "cloud-reasoner"},
			"arbiter":   {"local", "cloud-primary", "cloud-reasoner"},
			"reasoning": {"local", "cloud-reasoner", "cloud-primary", "cloud-overflow"},
			"long-form": {"local", "cloud-primary", "cloud-secondary", "cloud-reasoner"},
			"summary":   {"local", "cloud-secondary", "cloud-primary"},
			"status":    {"local", "cloud-secondary"},
		},
		DefaultLadder: []string{"local", "cloud-primary", "cloud-secondary", "cloud-overflow"},
		PrimaryTier:   "cloud-primary",
		SecondaryTier: "cloud-secondary",
		Buckets: map[string]int{
			"interactive": 20,
			"background":  6,
			"general":     12,
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyLocalFirst
	}
	if cfg.GlobalConfidenceMin == 0 {
		cfg.GlobalConfidenceMin = 0.6
	}
	if cfg.LocalConfidenceMin == 0 {
		cfg.LocalConfidenceMin = 0.7
	}
	if cfg.MaxLocalAttempts == 0 {
		cfg.MaxLocalAttempts = 2
	}
	if cfg.MaxHopsRoutine == 0 {
		cfg.MaxHopsRoutine = 2
	}
	if cfg.MaxHopsCritical == 0 {
		cfg.MaxHopsCritical = 4
	}
	if cfg.LongContextTokens == 0 {
		cfg.LongContextTokens = 6000
	}
	if cfg.CacheTTLSeconds == 0 {
		cfg.CacheTTLSeconds = 300
	}
	if cfg.BreakerCooldownSeconds == 0 {
		cfg.BreakerCooldownSeconds = 120
	}
	if cfg.ModelCacheTTLSeconds == 0 {
		cfg.ModelCacheTTLSeconds = 30
	}
	if cfg.Buckets == nil {
		cfg.Buckets = map[string]int{"interactive": 20, "background": 6, "general": 12}
	}
	for i := range cfg.Tiers {
		if cfg.Tiers[i].TimeoutSeconds == 0 {
			cfg.Tiers[i].TimeoutSeconds = 60
		}
	}
	if len(cfg.Scoring.Families) == 0 {
		cfg.Scoring.Families = []FamilyWeight{
			{Match: "qwen3", Weight: 8},
			{Match: "qwen2.5", Weight: 6},
			{Match: "llama-3.3", Weight: 7},
			{Match: "llama-3.1", Weight: 5},
			{Match: "mistral", Weight: 4},
			{Match: "gemma-3", Weight: 5},
			{Match: "phi-4", Weight: 4},
			{Match: "deepseek-r1", Weight: 7},
		}
	}
	if cfg.Scoring.CoderBonus == 0 {
		cfg.Scoring.CoderBonus = 4
	}
	if cfg.Scoring.ReasonerBonus == 0 {
		cfg.Scoring.ReasonerBonus = 4
	}
	if cfg.Scoring.CompactBonus == 0 {
		cfg.Scoring.CompactBonus = 2
	}
	if cfg.Scoring.ShortPromptChars == 0 {
		cfg.Scoring.ShortPromptChars = 240
	}
}

// Marshal renders the routing config back to YAML, for `validate --print`.
func (c *RoutingConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
