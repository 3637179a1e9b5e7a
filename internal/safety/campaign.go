package safety

import (
	"errors"
	"fmt"

	"outreach_engine/internal/model"
)

var (
	ErrInvalidCampaign   = errors.New("invalid campaign")
	ErrCapacityExceeded  = errors.New("campaign exceeds daily capacity")
	ErrBlacklistedTarget = errors.New("campaign targets a blacklisted domain")
)

type Estimate struct {
	Actions   int                    `json:"actions"`
	PerEngine map[model.Category]int `json:"perEngine"`
	Ceiling   int                    `json:"ceiling"`
}

// ValidateCampaign estimates the action volume of cfg and rejects it when the estimate
// exceeds the global daily ceiling or when any target is blacklisted. capFor supplies the
// per-destination cap for engines whose options leave it unset.
func (g *Gate) ValidateCampaign(cfg model.CampaignConfig, capFor func(model.Category) int) (Estimate, error) {
	enabled := cfg.EnabledCategories()
	if len(enabled) == 0 {
		return Estimate{}, fmt.Errorf("%w: no engines enabled", ErrInvalidCampaign)
	}

	g.mu.Lock()
	ceiling := g.settings.Global.PerDay
	g.mu.Unlock()

	est := Estimate{PerEngine: make(map[model.Category]int, len(enabled)), Ceiling: ceiling}
	for _, cat := range enabled {
		opts := cfg.Engines[cat]
		perTarget := opts.PerTargetCap
		if perTarget <= 0 && capFor != nil {
			perTarget = capFor(cat)
		}
		if perTarget <= 0 {
			perTarget = 1
		}
		n := len(opts.Targets) * perTarget
		est.PerEngine[cat] = n
		est.Actions += n
	}

	if ceiling > 0 && est.Actions > ceiling {
		return est, fmt.Errorf("%w: estimated %d actions against a daily ceiling of %d", ErrCapacityExceeded, est.Actions, ceiling)
	}

	for _, cat := range enabled {
		for _, target := range cfg.Engines[cat].Targets {
			if d := NormalizeDomain(target); d != "" && g.IsBlacklisted(d) {
				return est, fmt.Errorf("%w: %s (%s)", ErrBlacklistedTarget, d, cat)
			}
		}
	}
	return est, nil
}
