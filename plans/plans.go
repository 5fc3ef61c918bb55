package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UnlimitedDesigns is the sentinel quota for plans without a design limit.
const UnlimitedDesigns = -1

type PlanType string

const (
	PlanFree    PlanType = "FREE"
	PlanPlus    PlanType = "PLUS"
	PlanProPlus PlanType = "PRO_PLUS"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// PlanConfig describes a single billing plan. MonthlyPriceID and
// YearlyPriceID are the Stripe price identifiers; free plans may use the
// same identifier for both.
type PlanConfig struct {
	FrontendID     string   `json:"frontendId"`
	PlanType       PlanType `json:"planType"`
	Title          string   `json:"title"`
	MonthlyPriceID string   `json:"monthlyPriceId"`
	YearlyPriceID  string   `json:"yearlyPriceId"`
	MaxDesigns     int      `json:"maxDesigns"`
	IsFree         bool     `json:"isFree"`
}

// Registry holds the plan configuration loaded at startup plus the two
// reverse indices (by price id, by frontend id). It is never mutated
// after New.
type Registry struct {
	configs    []PlanConfig
	byPriceID  map[string]*PlanConfig
	byFrontend map[string]*PlanConfig
	free       *PlanConfig
}

func New(configs []PlanConfig) (*Registry, error) {
	r := &Registry{
		configs:    configs,
		byPriceID:  make(map[string]*PlanConfig),
		byFrontend: make(map[string]*PlanConfig),
	}

	for i := range configs {
		plan := &r.configs[i]
		// Free plans may omit price ids; an empty id must never resolve
		if plan.MonthlyPriceID != "" {
			r.byPriceID[plan.MonthlyPriceID] = plan
		}
		if plan.YearlyPriceID != "" {
			r.byPriceID[plan.YearlyPriceID] = plan
		}
		r.byFrontend[plan.FrontendID] = plan
		if plan.IsFree && r.free == nil {
			r.free = plan
		}
	}

	if r.free == nil {
		return nil, fmt.Errorf("plan registry requires a free plan entry")
	}

	return r, nil
}

// Load reads plans.json from the config directory and builds the registry
func Load(cfgDir, file string) (*Registry, error) {
	buf, err := os.ReadFile(filepath.Join(cfgDir, file))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	var configs []PlanConfig
	if err := json.Unmarshal(buf, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}

	return New(configs)
}

// FreePlan returns the registry's free-tier entry. Downgrade paths must
// source the free quota from here rather than hardcoding it.
func (r *Registry) FreePlan() *PlanConfig {
	return r.free
}

// ByFrontendID resolves a frontend plan name, nil if unknown
func (r *Registry) ByFrontendID(frontendID string) *PlanConfig {
	return r.byFrontend[frontendID]
}

// Plans returns all configured plans in declaration order
func (r *Registry) Plans() []PlanConfig {
	return r.configs
}
