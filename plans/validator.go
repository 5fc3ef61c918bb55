package plans

// ValidatedPlan is the result of resolving a Stripe price identifier
type ValidatedPlan struct {
	PlanConfig   *PlanConfig
	BillingCycle BillingCycle
}

// ValidatePriceID resolves a price identifier against the reverse index.
// Unknown identifiers return (nil, false); callers must reject the
// operation rather than assume a default plan. The billing cycle is a
// structural property of the registry: a price id equal to the plan's
// monthly identifier is monthly, anything else is yearly.
func (r *Registry) ValidatePriceID(priceID string) (*ValidatedPlan, bool) {
	plan, ok := r.byPriceID[priceID]
	if !ok {
		return nil, false
	}

	cycle := CycleYearly
	if priceID == plan.MonthlyPriceID {
		cycle = CycleMonthly
	}

	return &ValidatedPlan{PlanConfig: plan, BillingCycle: cycle}, true
}

// ValidPaidPriceIDs returns every price identifier belonging to a paid plan
func (r *Registry) ValidPaidPriceIDs() []string {
	var ids []string
	for id, plan := range r.byPriceID {
		if !plan.IsFree {
			ids = append(ids, id)
		}
	}
	return ids
}
