// Package tier resolves, per request category, the ordered list of candidate
// backends and selects which local model should serve a task.
package tier

import (
	"time"

	"github.com/zen-systems/routegate/pkg/config"
)

// Kind distinguishes local from remote tiers.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Tier is a named, configured backend with a model id and timeout.
// Tiers are configuration data; the local tier's model is resolved
// dynamically per request.
type Tier struct {
	ID       string
	Kind     Kind
	Provider string
	Model    string
	Timeout  time.Duration
}

// Catalog holds the tier table and per-category ladders.
type Catalog struct {
	tiers         map[string]Tier
	order         []string
	ladders       map[string][]string
	defaultLadder []string
	optional      map[string]bool
	optionalOn    bool
	primary       string
	secondary     string
}

// NewCatalog builds a catalog from routing configuration. The configuration
// is assumed validated.
func NewCatalog(cfg *config.RoutingConfig) *Catalog {
	c := &Catalog{
		tiers:         make(map[string]Tier, len(cfg.Tiers)),
		ladders:       make(map[string][]string, len(cfg.Ladders)),
		defaultLadder: append([]string(nil), cfg.DefaultLadder...),
		optional:      make(map[string]bool),
		optionalOn:    cfg.OptionalEnabled(),
		primary:       cfg.PrimaryTier,
		secondary:     cfg.SecondaryTier,
	}
	for _, tc := range cfg.Tiers {
		c.tiers[tc.ID] = Tier{
			ID:       tc.ID,
			Kind:     Kind(tc.Kind),
			Provider: tc.Provider,
			Model:    tc.Model,
			Timeout:  tc.Timeout(),
		}
		c.order = append(c.order, tc.ID)
		if tc.Optional {
			c.optional[tc.ID] = true
		}
	}
	for category, ladder := range cfg.Ladders {
		c.ladders[category] = append([]string(nil), ladder...)
	}
	return c
}

// Tier looks up a tier by id.
func (c *Catalog) Tier(id string) (Tier, bool) {
	t, ok := c.tiers[id]
	return t, ok
}

// TierForModel finds the tier configured with the given model id.
func (c *Catalog) TierForModel(model string) (Tier, bool) {
	for _, id := range c.order {
		if t := c.tiers[id]; t.Model == model {
			return t, true
		}
	}
	return Tier{}, false
}

// Primary returns the designated primary remote tier id.
func (c *Catalog) Primary() string { return c.primary }

// Secondary returns the designated secondary remote tier id.
func (c *Catalog) Secondary() string { return c.secondary }

// Categories lists the configured ladder categories.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.ladders))
	for category := range c.ladders {
		out = append(out, category)
	}
	return out
}

// ResolveLadder returns the ordered tier ids for a task category, falling
// back to the default ladder for unmatched categories. Disabled optional
// tiers are filtered out of every ladder.
func (c *Catalog) ResolveLadder(category string) []string {
	ladder, ok := c.ladders[category]
	if !ok {
		ladder = c.defaultLadder
	}

	out := make([]string, 0, len(ladder))
	for _, id := range ladder {
		if !c.optionalOn && c.optional[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}
