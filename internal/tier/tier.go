// Package tier maps named confidence tiers to deliberation budgets. A tier
// is a contract: how long the caller is willing to wait buys how much
// scrutiny the council applies.
package tier

import (
	"fmt"
	"strings"

	"github.com/normanking/council/internal/council"
)

// Tier names a deliberation budget.
type Tier string

const (
	// Quick trades review breadth for latency: short stage budgets and at
	// most two reviewers per response.
	Quick Tier = "quick"
	// Balanced is the default interactive tier.
	Balanced Tier = "balanced"
	// High gives every stage a generous budget with full peer review.
	High Tier = "high"
	// Reasoning accommodates slow deliberate-thinking models.
	Reasoning Tier = "reasoning"
)

// Contract is the concrete budget a tier resolves to.
type Contract struct {
	Name         Tier
	Timeouts     council.StageTimeouts
	MaxReviewers int // 0 = all reviewers
}

var contracts = map[Tier]Contract{
	Quick: {
		Name:         Quick,
		Timeouts:     council.StageTimeouts{S1: 15_000, S2: 15_000, S3: 15_000},
		MaxReviewers: 2,
	},
	Balanced: {
		Name:     Balanced,
		Timeouts: council.StageTimeouts{S1: 30_000, S2: 30_000, S3: 30_000},
	},
	High: {
		Name:     High,
		Timeouts: council.StageTimeouts{S1: 60_000, S2: 60_000, S3: 60_000},
	},
	Reasoning: {
		Name:     Reasoning,
		Timeouts: council.StageTimeouts{S1: 120_000, S2: 120_000, S3: 120_000},
	},
}

// Parse resolves a tier name, case-insensitively.
func Parse(name string) (Contract, error) {
	c, ok := contracts[Tier(strings.ToLower(name))]
	if !ok {
		return Contract{}, fmt.Errorf("unknown tier %q (want quick, balanced, high, or reasoning)", name)
	}
	return c, nil
}

// Names lists the valid tier names for help output.
func Names() []string {
	return []string{string(Quick), string(Balanced), string(High), string(Reasoning)}
}

// Apply overlays the contract's budget onto an engine configuration. The
// quick tier also caps reviewers; other tiers leave the configured cap
// alone.
func (c Contract) Apply(cfg council.Config) council.Config {
	cfg.Timeouts = c.Timeouts
	if c.MaxReviewers > 0 {
		cfg.MaxReviewers = c.MaxReviewers
	}
	return cfg
}
